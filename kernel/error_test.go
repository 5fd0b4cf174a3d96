package kernel

import "testing"

func TestKernelError(t *testing.T) {
	specs := []*Error{
		{Module: "vmem", Message: "virtual address does not point to a mapped physical page"},
		{Module: "mtask", Message: ""},
	}

	for specIndex, err := range specs {
		if err.Error() != err.Message {
			t.Errorf("[spec %d] expected err.Error() to return %q; got %q", specIndex, err.Message, err.Error())
		}
	}

	// Errors are compared by identity.
	var e error = specs[0]
	if e != error(specs[0]) || e == error(&Error{Module: "vmem", Message: specs[0].Message}) {
		t.Fatal("expected errors with the same contents to be distinct")
	}
}
