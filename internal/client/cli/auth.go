package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/examreg/internal/client/models"
	"github.com/dmitrijs2005/examreg/internal/client/premium"
	"github.com/dmitrijs2005/examreg/internal/client/session"
	"github.com/dmitrijs2005/examreg/internal/common"
)

var errAlreadySignedIn = errors.New("already signed in, logout first")

type credentials struct {
	email    string
	name     string
	password []byte
}

func (a *App) readCredentials(withName bool) (*credentials, error) {
	email, err := GetSimpleText(a.reader, "Email:", a.out)
	if err != nil {
		return nil, err
	}
	c := &credentials{email: email}
	if withName {
		if c.name, err = GetSimpleText(a.reader, "Full name:", a.out); err != nil {
			return nil, err
		}
	}
	if c.password, err = GetPassword(a.out); err != nil {
		return nil, err
	}
	return c, nil
}

// awaitSignedIn waits for the presence stream to carry the session through
// the sign-in chain.
func (a *App) awaitSignedIn(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.signInWait)
	defer cancel()
	if err := a.session.WaitState(ctx, session.SignedIn); err != nil {
		return fmt.Errorf("waiting for sign-in: %w", err)
	}
	return nil
}

func (a *App) Login(ctx context.Context) error {
	if a.isLoggedIn() {
		return errAlreadySignedIn
	}
	c, err := a.readCredentials(false)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(c.password)

	if _, err := a.provider.SignIn(ctx, c.email, string(c.password)); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if err := a.awaitSignedIn(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Signed in as", c.email)
	return nil
}

// Register creates the account, sends the verification email and then asks
// for the exam ranks of the new profile.
func (a *App) Register(ctx context.Context) error {
	if a.isLoggedIn() {
		return errAlreadySignedIn
	}
	c, err := a.readCredentials(true)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(c.password)

	id, err := a.provider.CreateIdentity(ctx, c.email, string(c.password), c.name)
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}
	if err := a.provider.SendVerification(ctx, id); err != nil {
		a.log.Warn(ctx, "verification email not sent", "uid", id.UID, "error", err)
		fmt.Fprintln(a.out, "Could not send the verification email.")
	} else {
		fmt.Fprintln(a.out, "Verification email sent to", id.Email)
	}

	if err := a.awaitSignedIn(ctx); err != nil {
		return err
	}

	entries, err := GetExamEntries(a.reader, a.out)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(a.out, "No exam data entered. Use 'exam <subject> <rank>' later.")
		return nil
	}

	now := a.now()
	exams := make(map[string]models.ExamRecord, len(entries))
	for _, e := range entries {
		exams[e.Subject] = models.ExamRecord{Rank: e.Rank, CreatedAt: now, UpdatedAt: now}
	}
	return a.saveProfile(ctx, models.ProfileUpdate{ExamData: exams})
}

func (a *App) Logout(ctx context.Context) error {
	if !a.isLoggedIn() {
		return common.ErrNotSignedIn
	}
	if err := a.session.Logout(ctx); err != nil {
		a.log.Warn(ctx, "logout", "error", err)
	}
	fmt.Fprintln(a.out, "Logged out")
	return nil
}

func (a *App) Status(ctx context.Context) error {
	fmt.Fprintln(a.out, "Session:", a.session.State())
	u := a.session.CurrentUser()
	if u == nil {
		return nil
	}
	fmt.Fprintf(a.out, "User: %s (%s)\n", u.Email, u.UID)

	pending, err := a.cache.ReadPending(ctx, u.UID)
	switch {
	case err != nil:
		fmt.Fprintln(a.out, "Pending changes: unknown")
	case pending != nil:
		fmt.Fprintln(a.out, "Pending changes: yes, run 'sync'")
	default:
		fmt.Fprintln(a.out, "Pending changes: none")
	}

	if p := a.session.Profile(); p != nil && premium.HasAccess(p, a.now()) {
		fmt.Fprintln(a.out, "Premium until:", p.PremiumUntil.Format("2006-01-02"))
	}
	return nil
}

// printNavigator "navigates" by printing the URL for the user to open.
type printNavigator struct {
	w io.Writer
}

func (n *printNavigator) Navigate(_ context.Context, target string) error {
	_, err := fmt.Fprintln(n.w, "Open:", target)
	return err
}

type printNotifier struct {
	w io.Writer
}

func (n *printNotifier) Notify(_ context.Context, msg string) {
	fmt.Fprintln(n.w, "!", msg)
}
