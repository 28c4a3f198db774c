// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"testing"
	"time"
)

func TestDeriveStatusPrecedence(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)

	cases := []struct {
		name  string
		cred  Credential
		usage UsageSnapshot
		want  Status
	}{
		{
			name: "disabled wins over expired and exhausted",
			cred: Credential{
				Disabled:  true,
				ExpiresAt: &past,
				Limits:    Limits{MaxRequestsPerDay: 1},
			},
			usage: UsageSnapshot{DayRequests: 1},
			want:  StatusDisabled,
		},
		{
			name: "expired wins over exhausted",
			cred: Credential{
				ExpiresAt: &past,
				Limits:    Limits{MaxRequestsPerDay: 1},
			},
			usage: UsageSnapshot{DayRequests: 1},
			want:  StatusExpired,
		},
		{
			name:  "exhausted day requests",
			cred:  Credential{Limits: Limits{MaxRequestsPerDay: 10}},
			usage: UsageSnapshot{DayRequests: 10},
			want:  StatusQuotaExhausted,
		},
		{
			name:  "exhausted week requests",
			cred:  Credential{Limits: Limits{MaxRequestsPerWeek: 50}},
			usage: UsageSnapshot{WeekRequests: 50},
			want:  StatusQuotaExhausted,
		},
		{
			name:  "exhausted day tokens",
			cred:  Credential{Limits: Limits{MaxTokensPerDay: 1000}},
			usage: UsageSnapshot{DayTokens: 1000},
			want:  StatusQuotaExhausted,
		},
		{
			name:  "zero limits never exhaust",
			cred:  Credential{},
			usage: UsageSnapshot{DayRequests: 1 << 20, WeekRequests: 1 << 20, DayTokens: 1 << 40},
			want:  StatusActive,
		},
		{
			name: "active",
			cred: Credential{Limits: Limits{MaxRequestsPerDay: 10}},
			want: StatusActive,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DeriveStatus(tc.cred, tc.usage, now, DefaultExpiryHorizon)
			if got != tc.want {
				t.Fatalf("expected status %s got %s", tc.want, got)
			}
		})
	}
}

func TestDeriveStatusExpiryHorizon(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	within := now.Add(3 * 24 * time.Hour)
	got := DeriveStatus(Credential{ExpiresAt: &within}, UsageSnapshot{}, now, 7*24*time.Hour)
	if got != StatusExpiringSoon {
		t.Fatalf("expected expiring_soon got %s", got)
	}

	beyond := now.Add(10 * 24 * time.Hour)
	got = DeriveStatus(Credential{ExpiresAt: &beyond}, UsageSnapshot{}, now, 7*24*time.Hour)
	if got != StatusActive {
		t.Fatalf("expected active got %s", got)
	}

	// Exactly at now is expired, not expiring_soon.
	atNow := now
	got = DeriveStatus(Credential{ExpiresAt: &atNow}, UsageSnapshot{}, now, 7*24*time.Hour)
	if got != StatusExpired {
		t.Fatalf("expected expired got %s", got)
	}

	// A zero horizon falls back to the default.
	got = DeriveStatus(Credential{ExpiresAt: &within}, UsageSnapshot{}, now, 0)
	if got != StatusExpiringSoon {
		t.Fatalf("expected expiring_soon with default horizon got %s", got)
	}
}

func TestStatusEligible(t *testing.T) {
	if !StatusActive.Eligible() {
		t.Fatal("expected active to be eligible")
	}
	if !StatusExpiringSoon.Eligible() {
		t.Fatal("expected expiring_soon to be eligible")
	}
	for _, s := range []Status{StatusDisabled, StatusExpired, StatusQuotaExhausted} {
		if s.Eligible() {
			t.Fatalf("expected %s to be ineligible", s)
		}
	}
}
