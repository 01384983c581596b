package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

type DomainErrorsSuite struct {
	suite.Suite
}

func TestDomainErrorsSuite(t *testing.T) {
	suite.Run(t, new(DomainErrorsSuite))
}

func (s *DomainErrorsSuite) TestErrorInterface() {
	s.Run("returns message when present", func() {
		err := &Error{Code: CodeNotFound, Message: "profile not found"}
		s.Equal("profile not found", err.Error())
	})

	s.Run("returns code when message is empty", func() {
		err := &Error{Code: CodeInvitationInvalid}
		s.Equal("invitation_invalid", err.Error())
	})
}

func (s *DomainErrorsSuite) TestIsMatchesByCode() {
	s.Run("same code matches regardless of message", func() {
		err1 := &Error{Code: CodeConflict, Message: "duplicate invitation"}
		err2 := &Error{Code: CodeConflict, Message: "duplicate session"}
		s.True(errors.Is(err1, err2))
	})

	s.Run("different codes do not match", func() {
		s.False(errors.Is(&Error{Code: CodeConflict}, &Error{Code: CodeNotFound}))
	})

	s.Run("matches through a wrapping chain", func() {
		inner := &Error{Code: CodeInvalidCredentials, Message: "provider rejected"}
		wrapped := fmt.Errorf("login: %w", inner)
		s.True(errors.Is(wrapped, &Error{Code: CodeInvalidCredentials}))
	})
}

func (s *DomainErrorsSuite) TestWrapPreservesExistingCode() {
	inner := New(CodeProfileUnavailable, "store timeout")
	wrapped := Wrap(inner, CodeInternal, "resolve profile")

	s.True(HasCode(wrapped, CodeProfileUnavailable))
	s.False(HasCode(wrapped, CodeInternal))
	s.True(errors.Is(wrapped, inner))
}

func (s *DomainErrorsSuite) TestWrapAssignsCodeToPlainErrors() {
	inner := errors.New("connection refused")
	wrapped := Wrap(inner, CodeProfileUnavailable, "load profile")

	s.True(HasCode(wrapped, CodeProfileUnavailable))
	s.True(errors.Is(wrapped, inner))
}

func (s *DomainErrorsSuite) TestCodeOf() {
	s.Equal(CodeSignupFailed, CodeOf(New(CodeSignupFailed, "rejected")))
	s.Equal(CodeInternal, CodeOf(errors.New("plain")))
	s.Equal(CodeAlreadyAuthenticated, CodeOf(fmt.Errorf("guard: %w", New(CodeAlreadyAuthenticated, ""))))
}
