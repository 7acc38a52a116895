package cli

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/examreg/internal/client/models"
	"github.com/dmitrijs2005/examreg/internal/client/premium"
	"github.com/dmitrijs2005/examreg/internal/common"
)

const timeLayout = "2006-01-02 15:04"

func (a *App) signedInUser() (*models.Identity, error) {
	if !a.isLoggedIn() {
		return nil, common.ErrNotSignedIn
	}
	u := a.session.CurrentUser()
	if u == nil {
		return nil, common.ErrNotSignedIn
	}
	return u, nil
}

func (a *App) saveProfile(ctx context.Context, upd models.ProfileUpdate) error {
	u, err := a.signedInUser()
	if err != nil {
		return err
	}
	if a.profiles.UpdateProfile(ctx, u, upd) {
		fmt.Fprintln(a.out, "Profile saved")
	} else {
		fmt.Fprintln(a.out, "Saved locally, run 'sync' when back online")
	}
	return nil
}

func (a *App) ShowProfile(ctx context.Context) error {
	if _, err := a.signedInUser(); err != nil {
		return err
	}
	p := a.session.Profile()
	if p == nil {
		return errors.New("profile not loaded")
	}
	a.printProfile(p)
	return nil
}

func (a *App) printProfile(p *models.Profile) {
	fmt.Fprintf(a.out, "UID:          %s\n", p.UID)
	fmt.Fprintf(a.out, "Email:        %s\n", p.Email)
	fmt.Fprintf(a.out, "Name:         %s\n", p.DisplayName)
	fmt.Fprintf(a.out, "Role:         %s\n", p.UserRole)
	fmt.Fprintf(a.out, "Active:       %t\n", p.IsActive)
	if premium.HasAccess(p, a.now()) {
		fmt.Fprintf(a.out, "Premium:      until %s\n", p.PremiumUntil.Format(timeLayout))
	} else {
		fmt.Fprintln(a.out, "Premium:      no")
	}
	if !p.LastUpdated.IsZero() {
		fmt.Fprintf(a.out, "Last updated: %s\n", p.LastUpdated.Format(timeLayout))
	}
	if len(p.ExamData) == 0 {
		fmt.Fprintln(a.out, "Exams:        none")
		return
	}
	fmt.Fprintln(a.out, "Exams:")
	for _, subject := range slices.Sorted(maps.Keys(p.ExamData)) {
		rec := p.ExamData[subject]
		verified := ""
		if rec.Verified {
			verified = " (verified)"
		}
		fmt.Fprintf(a.out, "  %-10s rank %d%s\n", subject, rec.Rank, verified)
	}
}

func (a *App) SetName(ctx context.Context, args []string) error {
	name := strings.TrimSpace(strings.Join(args, " "))
	if name == "" {
		return errors.New("usage: setname <name>")
	}
	return a.saveProfile(ctx, models.ProfileUpdate{DisplayName: &name})
}

// SetExam records one exam rank. The whole exam map is written back, so
// the other subjects are carried over from the current profile.
func (a *App) SetExam(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: exam <subject> <rank>")
	}
	e, err := parseExamLine(args[0] + "=" + args[1])
	if err != nil {
		return err
	}
	if _, err := a.signedInUser(); err != nil {
		return err
	}

	now := a.now()
	exams := map[string]models.ExamRecord{}
	if p := a.session.Profile(); p != nil {
		maps.Copy(exams, p.ExamData)
	}
	rec, ok := exams[e.Subject]
	if !ok {
		rec.CreatedAt = now
	}
	if rec.Rank != e.Rank {
		rec.Verified = false
	}
	rec.Rank = e.Rank
	rec.UpdatedAt = now
	exams[e.Subject] = rec

	return a.saveProfile(ctx, models.ProfileUpdate{ExamData: exams})
}

func (a *App) Sync(ctx context.Context) error {
	u, err := a.signedInUser()
	if err != nil {
		return err
	}
	if !a.profiles.SyncPendingProfile(ctx, u) {
		return errors.New("sync failed, changes are kept locally")
	}
	fmt.Fprintln(a.out, "Profile is in sync")
	return nil
}

func (a *App) Redirect(ctx context.Context, args []string) error {
	target := a.config.CompanionURL
	if len(args) > 0 {
		target = args[0]
	}
	if target == "" {
		return errors.New("usage: redirect <url>")
	}
	_, err := a.session.SecureRedirect(ctx, target)
	return err
}

func (a *App) Redeem(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: redeem <code>")
	}
	u, err := a.signedInUser()
	if err != nil {
		return err
	}
	until, synced, err := a.premium.Redeem(ctx, u, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Premium access until", until.Format(timeLayout))
	if !synced {
		fmt.Fprintln(a.out, "Saved locally, run 'sync' when back online")
	}
	return nil
}

func parsePositive(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("expected a positive number, got %q", s)
	}
	return n, nil
}
