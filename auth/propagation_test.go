package auth_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/n9te9/kinabalu/auth"
)

func sampleClaims() *auth.Claims {
	return &auth.Claims{
		Email: "ada@example.com",
		Roles: []string{"superuser", "cool"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "42",
			Audience:  jwt.ClaimStrings{auth.DefaultAudience},
			Issuer:    auth.DefaultIssuer,
			IssuedAt:  jwt.NewNumericDate(time.Unix(1_770_000_000, 0)),
			ExpiresAt: jwt.NewNumericDate(time.Unix(1_770_604_800, 0)),
		},
	}
}

func TestForwardAndParse_RoundTrip(t *testing.T) {
	h := http.Header{}
	h.Set(auth.PropagationHeader, `{"sub":"spoofed"}`)

	want := sampleClaims()
	if err := auth.Forward(h, want); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if n := len(h.Values(auth.PropagationHeader)); n != 1 {
		t.Fatalf("header has %d values, want 1", n)
	}

	got, state, err := auth.ParsePropagation(h)
	if err != nil {
		t.Fatalf("ParsePropagation: %v", err)
	}
	if state != auth.HeaderPresent {
		t.Errorf("state = %v, want present", state)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("claims mismatch (-want +got):\n%s", diff)
	}
}

func TestParsePropagation_States(t *testing.T) {
	anonymous := http.Header{}
	if err := auth.Forward(anonymous, nil); err != nil {
		t.Fatalf("Forward(nil): %v", err)
	}

	multi := http.Header{}
	multi.Add(auth.PropagationHeader, "null")
	multi.Add(auth.PropagationHeader, `{"sub":"1"}`)

	tests := []struct {
		name      string
		header    http.Header
		wantState auth.HeaderState
		wantErr   bool
	}{
		{name: "absent", header: http.Header{}, wantState: auth.HeaderAbsent},
		{name: "explicit null", header: anonymous, wantState: auth.HeaderAnonymous},
		{name: "not json", header: http.Header{auth.PropagationHeader: {"{sub:"}}, wantState: auth.HeaderMalformed, wantErr: true},
		{name: "wrong shape", header: http.Header{auth.PropagationHeader: {`["a"]`}}, wantState: auth.HeaderMalformed, wantErr: true},
		{name: "empty", header: http.Header{auth.PropagationHeader: {""}}, wantState: auth.HeaderMalformed, wantErr: true},
		{name: "repeated", header: multi, wantState: auth.HeaderMalformed, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, state, err := auth.ParsePropagation(tt.header)
			if got != nil {
				t.Errorf("claims = %+v, want nil", got)
			}
			if state != tt.wantState {
				t.Errorf("state = %v, want %v", state, tt.wantState)
			}
			if tt.wantErr != (err != nil) {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, auth.ErrMalformedPropagationHeader) {
				t.Errorf("err = %v, want ErrMalformedPropagationHeader", err)
			}
		})
	}
}

func TestBuildContext(t *testing.T) {
	present := http.Header{}
	if err := auth.Forward(present, sampleClaims()); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	tests := []struct {
		name    string
		header  http.Header
		wantSub string
	}{
		{name: "present", header: present, wantSub: "42"},
		{name: "absent", header: http.Header{}},
		{name: "anonymous", header: http.Header{auth.PropagationHeader: {"null"}}},
		{name: "malformed", header: http.Header{auth.PropagationHeader: {"%%%"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := auth.BuildContext(context.Background(), tt.header)
			got := auth.ClaimsFrom(ctx)
			if tt.wantSub == "" {
				if got != nil {
					t.Fatalf("ClaimsFrom = %+v, want nil", got)
				}
				return
			}
			if got == nil || got.Subject != tt.wantSub {
				t.Fatalf("ClaimsFrom = %+v, want subject %q", got, tt.wantSub)
			}
		})
	}
}

func TestClaims_UserID(t *testing.T) {
	tests := []struct {
		name   string
		claims *auth.Claims
		wantID int64
		wantOK bool
	}{
		{name: "nil", claims: nil},
		{name: "numeric", claims: &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "15"}}, wantID: 15, wantOK: true},
		{name: "not numeric", claims: &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "abc"}}},
		{name: "empty", claims: &auth.Claims{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := tt.claims.UserID()
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("UserID() = %d, %v; want %d, %v", id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}
