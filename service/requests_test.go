package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCreateRequest() CreateBetRequest {
	return CreateBetRequest{
		GroupID:     10,
		CreatorID:   1,
		Question:    "Who wins the final?",
		Options:     []string{"Home", "Away"},
		WagerAmount: 100,
		ExpiresAt:   time.Now().Add(time.Hour),
	}
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CreateBetRequest)
		wantErr string
	}{
		{name: "valid", mutate: func(*CreateBetRequest) {}},
		{name: "one option", mutate: func(r *CreateBetRequest) { r.Options = []string{"Home"} }, wantErr: "Options must have at least 2 entries"},
		{name: "zero wager", mutate: func(r *CreateBetRequest) { r.WagerAmount = 0 }, wantErr: "WagerAmount must be greater than 0"},
		{name: "negative wager", mutate: func(r *CreateBetRequest) { r.WagerAmount = -5 }, wantErr: "WagerAmount must be greater than 0"},
		{name: "missing question", mutate: func(r *CreateBetRequest) { r.Question = "" }, wantErr: "Question is required"},
		{name: "missing expiry", mutate: func(r *CreateBetRequest) { r.ExpiresAt = time.Time{} }, wantErr: "ExpiresAt is required"},
		{name: "empty option", mutate: func(r *CreateBetRequest) { r.Options = []string{"Home", ""} }, wantErr: "Options[1] is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validCreateRequest()
			tt.mutate(&req)
			err := validateRequest(req)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNormalizeOptions(t *testing.T) {
	got, err := normalizeOptions([]string{"  Home ", "Away"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Home", "Away"}, got)

	_, err = normalizeOptions([]string{"Home", "home "})
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = normalizeOptions([]string{"Home", "   "})
	assert.True(t, errors.Is(err, ErrValidation))
}
