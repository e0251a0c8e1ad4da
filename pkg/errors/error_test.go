package errors_test

import (
	"errors"
	"fmt"
	"testing"

	. "botarena/pkg/errors"
)

func TestErrorCode_Message(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{Success, "Success"},
		{MatchNotFound, "Match not found"},
		{ArtifactCorrupted, "Artifact checksum mismatch"},
		{DatabaseError, "Database operation failed"},
		{ErrorCode(99999), "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.code.Message(); got != tt.want {
				t.Errorf("Message() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		wantStatus int
	}{
		{Success, 200},
		{InvalidParams, 400},
		{ValidationFailed, 400},
		{MatchNotFound, 404},
		{MatchAlreadyFinished, 409},
		{ArenaBusy, 429},
		{SandboxError, 500},
	}

	for _, tt := range tests {
		t.Run(tt.code.Message(), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %v, want %v", got, tt.wantStatus)
			}
		})
	}
}

func TestWrapKeepsCause(t *testing.T) {
	t.Parallel()
	cause := errors.New("disk full")
	err := Wrapf(cause, WorkspaceError, "copy artifact failed")
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to be reachable")
	}
	if got := err.Error(); got != "copy artifact failed: disk full" {
		t.Fatalf("unexpected message: %q", got)
	}
	if Wrap(nil, DatabaseError) != nil {
		t.Fatalf("expected nil for nil cause")
	}
}

func TestGetCodeAndIsThroughFmtWrap(t *testing.T) {
	t.Parallel()
	inner := New(BotNotFound)
	outer := fmt.Errorf("pick pairing: %w", Wrap(inner, DatabaseError))

	if code := GetCode(outer); code != DatabaseError {
		t.Fatalf("expected %d, got %d", DatabaseError, code)
	}
	if !Is(outer, BotNotFound) {
		t.Fatalf("expected inner code to be found")
	}
	if Is(outer, SandboxError) {
		t.Fatalf("unexpected code match")
	}
	if code := GetCode(errors.New("plain")); code != InternalServerError {
		t.Fatalf("expected internal error code, got %d", code)
	}
}

func TestValidationErrorDetails(t *testing.T) {
	t.Parallel()
	err := ValidationError("white_id", "required")
	if err.Details["field"] != "white_id" || err.Details["reason"] != "required" {
		t.Fatalf("unexpected details: %#v", err.Details)
	}
	if err.Code != ValidationFailed {
		t.Fatalf("unexpected code %d", err.Code)
	}
}
