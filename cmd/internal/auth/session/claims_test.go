package session

import (
	"testing"
	"time"
)

func TestLevel_CanDraw(t *testing.T) {
	cases := []struct {
		level     Level
		moderated bool
		want      bool
	}{
		{LevelNone, false, false},
		{LevelNone, true, false},
		{LevelViewer, false, false},
		{LevelViewer, true, false},
		{LevelWriter, false, true},
		{LevelWriter, true, false}, // moderation suspends writers
		{LevelModerator, true, true},
		{LevelOwner, true, true},
		{LevelCreator, true, true},
	}

	for _, tc := range cases {
		if got := tc.level.CanDraw(tc.moderated); got != tc.want {
			t.Errorf("Level(%q).CanDraw(moderated=%v) = %v, want %v", tc.level, tc.moderated, got, tc.want)
		}
	}
}

func TestLevel_Ordering(t *testing.T) {
	order := []Level{LevelViewer, LevelWriter, LevelModerator, LevelOwner, LevelCreator}
	for i, lo := range order {
		for j, hi := range order {
			if got := hi.AtLeast(lo); got != (j >= i) {
				t.Errorf("%q.AtLeast(%q) = %v", hi, lo, got)
			}
		}
	}
	if LevelNone.AtLeast(LevelViewer) {
		t.Fatalf("no permission must never satisfy viewer")
	}
}

func TestParseLevel_RejectsUnknownCodes(t *testing.T) {
	for _, bad := range []string{"", "X", "w", "VV", "A"} {
		if _, ok := ParseLevel(bad); ok {
			t.Errorf("ParseLevel(%q) accepted", bad)
		}
	}
	if lvl, ok := ParseLevel("M"); !ok || lvl != LevelModerator {
		t.Fatalf("ParseLevel(M) = %q, %v", lvl, ok)
	}
}

func TestSpec_Build(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("requires identity and hard expiry", func(t *testing.T) {
		if _, err := (Spec{Email: "a@b.c", HardExpiry: now}).Build(); err == nil {
			t.Fatalf("missing user id accepted")
		}
		if _, err := (Spec{UserID: "u", Email: "a@b.c"}).Build(); err == nil {
			t.Fatalf("missing hard expiry accepted")
		}
	})

	t.Run("clamps reissue to hard expiry", func(t *testing.T) {
		c, err := Spec{
			UserID:     "u",
			Email:      "a@b.c",
			HardExpiry: now,
			ReissueAt:  now.Add(time.Hour),
		}.Build()
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		if !c.ReissueAt.Equal(now) {
			t.Fatalf("ReissueAt = %v, want clamped to %v", c.ReissueAt, now)
		}
	})

	t.Run("copies and filters the permission map", func(t *testing.T) {
		in := map[string]Level{"c1": LevelWriter, "c2": Level("bogus")}
		c, err := Spec{UserID: "u", Email: "a@b.c", HardExpiry: now, CanvasPermissions: in}.Build()
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		if c.PermissionFor("c2") != LevelNone {
			t.Fatalf("invalid code survived build")
		}

		in["c1"] = LevelCreator
		if c.PermissionFor("c1") != LevelWriter {
			t.Fatalf("built claims share the caller's map")
		}
	})
}

func TestClaims_Expiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c, err := Spec{
		UserID:     "u",
		Email:      "a@b.c",
		HardExpiry: now.Add(time.Hour),
		ReissueAt:  now.Add(5 * time.Minute),
	}.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if c.HardExpired(now) {
		t.Fatalf("not yet hard expired")
	}
	if !c.HardExpired(now.Add(time.Hour)) {
		t.Fatalf("hard expiry boundary is inclusive")
	}
	if c.NeedsReissue(now) {
		t.Fatalf("not yet soft expired")
	}
	if !c.NeedsReissue(now.Add(5 * time.Minute)) {
		t.Fatalf("soft expiry boundary is inclusive")
	}
}
