package kerrors

import (
	"errors"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "without underlying error",
			err:  New(InvalidState, "cannot close from Nascent"),
			want: "[invalid_state] cannot close from Nascent",
		},
		{
			name: "with underlying error",
			err:  Wrap(NetworkError, "dial peer", errors.New("connection refused")),
			want: "[network_error] dial peer: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	underlying := errors.New("boom")
	err := Wrap(ProtocolError, "peer rejected", underlying)

	if got := err.Unwrap(); got != underlying {
		t.Errorf("Unwrap() = %v, want %v", got, underlying)
	}
}

func TestError_WithDetails(t *testing.T) {
	err := New(InsufficientResources, "quota exceeded")
	err.WithDetails("project", "p-1").WithDetails("remaining", 0)

	if len(err.Details) != 2 {
		t.Errorf("Details length = %d, want 2", len(err.Details))
	}
	if err.Details["project"] != "p-1" {
		t.Errorf("Details[project] = %v, want p-1", err.Details["project"])
	}
}

func TestIsAndAs(t *testing.T) {
	err := NotFoundf("reservation", "r-1")

	if !Is(err, NotFound) {
		t.Errorf("Is(err, NotFound) = false, want true")
	}
	if Is(err, InvalidState) {
		t.Errorf("Is(err, InvalidState) = true, want false")
	}

	wrapped := Wrap(InvalidState, "outer", err)
	extracted := As(wrapped)
	if extracted == nil || extracted.Kind != InvalidState {
		t.Fatalf("As(wrapped) = %+v, want Kind InvalidState", extracted)
	}

	if As(errors.New("plain")) != nil {
		t.Errorf("As(plain error) should be nil")
	}
}
