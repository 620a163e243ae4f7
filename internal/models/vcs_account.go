package models

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// VCSAccount is a user's authenticated identity on a provider
type VCSAccount struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	VCS          VCS        `json:"vcs"`
	RemoteID     int64      `json:"remote_id"`
	Login        string     `json:"login"`
	AccessToken  string     `json:"-"`
	TokenType    string     `json:"-"`
	RefreshToken string     `json:"-"`
	ExpiresAt    *time.Time `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewVCSAccount creates a new VCSAccount with a generated UUID
func NewVCSAccount(userID string, vcs VCS, remoteID int64, login string) *VCSAccount {
	now := time.Now()
	return &VCSAccount{
		ID:        uuid.New().String(),
		UserID:    userID,
		VCS:       vcs,
		RemoteID:  remoteID,
		Login:     login,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Token returns the stored credential as an oauth2 token
func (a *VCSAccount) Token() *oauth2.Token {
	token := &oauth2.Token{
		AccessToken:  a.AccessToken,
		TokenType:    a.TokenType,
		RefreshToken: a.RefreshToken,
	}
	if a.ExpiresAt != nil {
		token.Expiry = *a.ExpiresAt
	}
	return token
}

// SetToken stores an oauth2 token on the account
func (a *VCSAccount) SetToken(token *oauth2.Token) {
	a.AccessToken = token.AccessToken
	a.TokenType = token.TokenType
	a.RefreshToken = token.RefreshToken
	if token.Expiry.IsZero() {
		a.ExpiresAt = nil
	} else {
		expiry := token.Expiry
		a.ExpiresAt = &expiry
	}
}
