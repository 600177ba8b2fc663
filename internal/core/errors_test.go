package core

import (
	"errors"
	"testing"

	"github.com/castpoint/castpoint/pkg/cast"
)

func TestErrorForReplyCode(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{string(cast.CategoryInvalidParameter), ExitUsage},
		{string(cast.CategoryDeviceConnection), ExitNotFound},
		{string(cast.CategoryDiscovery), ExitNotFound},
		{string(cast.CategoryCompatibility), ExitConflict},
		{string(cast.CategoryNetwork), ExitRuntime},
		{"something-else", ExitRuntime},
	}

	for _, test := range tests {
		err := ErrorForReplyCode(test.code, "message")
		if err.Code != test.expected {
			t.Fatalf("code %s expected %d got %d", test.code, test.expected, err.Code)
		}
	}
}

func TestExitCode(t *testing.T) {
	if ExitCode(nil) != ExitOK {
		t.Fatal("nil error should map to ExitOK")
	}
	if ExitCode(errors.New("boom")) != ExitRuntime {
		t.Fatal("plain error should map to ExitRuntime")
	}
	if ExitCode(&CLIError{Code: ExitNotFound, Msg: "gone"}) != ExitNotFound {
		t.Fatal("CLIError code should pass through")
	}
}
