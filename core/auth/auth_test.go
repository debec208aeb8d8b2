package auth

import (
	"errors"
	"testing"
	"time"

	"LiveFM/model"
)

func TestTokenIssuer(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	viewer := model.Viewer{ID: 42, Name: "dj", Avatar: "http://a.local/42.png"}

	t.Run("round trip", func(t *testing.T) {
		token, err := issuer.Issue(viewer)
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		got, err := issuer.Parse(token)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if *got != viewer {
			t.Errorf("viewer = %+v, want %+v", *got, viewer)
		}
	})

	t.Run("rejects other secret", func(t *testing.T) {
		token, _ := NewTokenIssuer("other", time.Hour).Issue(viewer)
		if _, err := issuer.Parse(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("err = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("rejects expired", func(t *testing.T) {
		past := NewTokenIssuer("test-secret", time.Minute)
		past.now = func() time.Time { return time.Now().Add(-time.Hour) }
		token, _ := past.Issue(viewer)
		if _, err := issuer.Parse(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("err = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("rejects garbage and anonymous", func(t *testing.T) {
		if _, err := issuer.Parse("not.a.token"); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("garbage err = %v", err)
		}
		if _, err := issuer.Issue(model.Viewer{}); err == nil {
			t.Error("expected error for missing user id")
		}
	})
}
