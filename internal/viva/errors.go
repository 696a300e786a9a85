package viva

import (
	"errors"

	"github.com/pavelanni/viva/internal/model"
)

var (
	// ErrNoQuestionsAvailable means the topic has no eligible questions in
	// either language. No session is created.
	ErrNoQuestionsAvailable = errors.New("no questions available")
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionCompleted     = errors.New("session already completed")
	ErrSessionAbandoned     = errors.New("session abandoned")
	// ErrSessionBusy rejects a second mutation while one is in flight.
	ErrSessionBusy   = errors.New("session busy")
	ErrSessionExists = errors.New("session id already exists")
)

// SessionError ties a session error to the language the session runs in.
type SessionError struct {
	Err      error
	Language model.Language
}

func (e *SessionError) Error() string { return e.Err.Error() }

func (e *SessionError) Unwrap() error { return e.Err }

// SessionLanguage returns the language of the session err refers to, if known.
func SessionLanguage(err error) (model.Language, bool) {
	var se *SessionError
	if errors.As(err, &se) && se.Language.Valid() {
		return se.Language, true
	}
	return "", false
}
