package cli

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/examreg/internal/client/admin"
	"github.com/dmitrijs2005/examreg/internal/client/models"
)

func (a *App) actor() (*models.Profile, error) {
	if _, err := a.signedInUser(); err != nil {
		return nil, err
	}
	return a.session.Profile(), nil
}

// parseListArgs reads key=value options of the users command.
func parseListArgs(args []string) (admin.Filter, admin.Sort, admin.PageRequest, error) {
	var (
		f  admin.Filter
		s  admin.Sort
		pr admin.PageRequest
	)
	for _, arg := range args {
		if arg == "desc" {
			s.Desc = true
			continue
		}
		key, val, ok := strings.Cut(arg, "=")
		if !ok {
			return f, s, pr, fmt.Errorf("unexpected argument %q", arg)
		}
		switch key {
		case "role":
			f.Role = models.Role(val)
		case "active":
			b, err := strconv.ParseBool(val)
			if err != nil {
				return f, s, pr, fmt.Errorf("active: %w", err)
			}
			f.Active = &b
		case "q":
			f.Search = val
		case "sort":
			s.Field = admin.SortField(val)
		case "size":
			n, err := parsePositive(val)
			if err != nil {
				return f, s, pr, err
			}
			pr.Size = n
		case "after":
			pr.After = val
		default:
			return f, s, pr, fmt.Errorf("unknown option %q", key)
		}
	}
	return f, s, pr, nil
}

func (a *App) Users(ctx context.Context, args []string) error {
	actor, err := a.actor()
	if err != nil {
		return err
	}
	f, s, pr, err := parseListArgs(args)
	if err != nil {
		return err
	}
	page, err := a.console.ListUsers(ctx, actor, f, s, pr)
	if err != nil {
		return err
	}

	fmt.Fprintln(a.out, "UID | Email | Name | Role | Active")
	for _, u := range page.Users {
		fmt.Fprintf(a.out, "%s | %s | %s | %s | %t\n", u.UID, u.Email, u.DisplayName, u.UserRole, u.IsActive)
	}
	fmt.Fprintf(a.out, "%d of %d users\n", len(page.Users), page.Total)
	if page.Next != "" {
		fmt.Fprintf(a.out, "Next page: users after=%s\n", page.Next)
	}
	return nil
}

func (a *App) Stats(ctx context.Context) error {
	actor, err := a.actor()
	if err != nil {
		return err
	}
	st, err := a.console.Stats(ctx, actor)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Users: %d (active %d, admins %d, students %d)\n", st.Total, st.Active, st.Admins, st.Students)
	for _, subject := range slices.Sorted(maps.Keys(st.Exams)) {
		es := st.Exams[subject]
		fmt.Fprintf(a.out, "  %-10s registered %d, verified %d\n", subject, es.Registered, es.Verified)
	}
	return nil
}

// SetActive toggles one user directly and several through a bulk update.
func (a *App) SetActive(ctx context.Context, args []string, active bool) error {
	if len(args) == 0 {
		return errors.New("usage: activate|deactivate <uid...>")
	}
	actor, err := a.actor()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		if err := a.console.SetActive(ctx, actor, args[0], active); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "Updated", args[0])
		return nil
	}

	res, err := a.console.BulkUpdate(ctx, actor, args, models.ProfileUpdate{IsActive: &active})
	if err != nil {
		return err
	}
	return a.printBulk(res)
}

func (a *App) Note(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: note <uid> <text>")
	}
	actor, err := a.actor()
	if err != nil {
		return err
	}
	note := strings.Join(args[1:], " ")
	res, err := a.console.BulkUpdate(ctx, actor, args[:1], models.ProfileUpdate{AdminNotes: &note})
	if err != nil {
		return err
	}
	return a.printBulk(res)
}

func (a *App) printBulk(res *admin.BulkResult) error {
	fmt.Fprintf(a.out, "Updated %d user(s)\n", len(res.Updated))
	if len(res.Failed) == 0 {
		return nil
	}
	for _, uid := range slices.Sorted(maps.Keys(res.Failed)) {
		fmt.Fprintf(a.out, "  %s: %v\n", uid, res.Failed[uid])
	}
	return fmt.Errorf("%d update(s) failed", len(res.Failed))
}

func (a *App) IssueCode(ctx context.Context, args []string) error {
	actor, err := a.actor()
	if err != nil {
		return err
	}
	days := 0
	if len(args) > 0 {
		if days, err = parsePositive(args[0]); err != nil {
			return err
		}
	}
	code, err := a.premium.IssueCode(ctx, actor, days)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Code:", code)
	return nil
}

func (a *App) DeleteUser(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: delete <uid>")
	}
	actor, err := a.actor()
	if err != nil {
		return err
	}
	if err := a.console.DeleteUser(ctx, actor, args[0]); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Deleted", args[0])
	return nil
}
