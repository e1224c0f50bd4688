package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/stepwise/internal/model"
)

var (
	// ErrContentGeneration means the provider failed, timed out or returned an unusable quiz.
	// No state changed; the student may ask again.
	ErrContentGeneration = errors.New("quiz content generation failed")
	// ErrCooldownActive is matched by every *CooldownError.
	ErrCooldownActive = errors.New("quiz cooldown active")
	// ErrPersistence means the record store could not be read or written.
	ErrPersistence = errors.New("could not save progress")
	// ErrLessonLocked means the lesson is not yet open to the user.
	ErrLessonLocked = errors.New("lesson is locked")
	// ErrQuizRequired means the lesson can only be completed by passing its quiz.
	ErrQuizRequired = errors.New("lesson must be completed by passing its quiz")
	// ErrQuizNotFound means the quiz token is unknown, expired or belongs to another user.
	ErrQuizNotFound = errors.New("quiz not found or expired")
	// ErrInvalidInput means a request argument is malformed.
	ErrInvalidInput = errors.New("invalid input")
)

// CooldownError reports when a blocked student may try again.
type CooldownError struct {
	RetryAt time.Time
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("quiz cooldown active until %s", e.RetryAt.UTC().Format(time.RFC3339))
}

// Is makes errors.Is(err, ErrCooldownActive) true.
func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldownActive
}

// storeErr classifies a record store failure. Missing records stay ErrNotFound.
func storeErr(op string, err error) error {
	if errors.Is(err, model.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
