package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{ErrNoValidFiles, KindValidation},
		{ErrTooManyFiles, KindValidation},
		{fmt.Errorf("upload: %w", ErrInvalidExpiry), KindValidation},
		{fmt.Errorf("lookup: %w", ErrNotFound), KindNotFound},
		{ErrExpired, KindExpired},
		{&UnauthorizedError{FileID: "x"}, KindUnauthorized},
		{storageErr("write blob", errors.New("disk full")), KindStorage},
		{errors.New("something else"), KindStorage},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err), tt.err.Error())
	}
}

func TestUnauthorizedErrorMatching(t *testing.T) {
	err := fmt.Errorf("retrieve: %w", &UnauthorizedError{FileID: "abc", Name: "a.txt", Size: 3, Attempted: true})
	assert.ErrorIs(t, err, ErrUnauthorized)

	var ue *UnauthorizedError
	assert.ErrorAs(t, err, &ue)
	assert.True(t, ue.Attempted)
	assert.Equal(t, "a.txt", ue.Name)
	assert.Contains(t, ue.Error(), "incorrect")
}
