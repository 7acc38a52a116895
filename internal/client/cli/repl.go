package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	isAdmin() bool

	Register(ctx context.Context) error
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	Status(ctx context.Context) error

	ShowProfile(ctx context.Context) error
	SetName(ctx context.Context, args []string) error
	SetExam(ctx context.Context, args []string) error
	Sync(ctx context.Context) error
	Redirect(ctx context.Context, args []string) error
	Redeem(ctx context.Context, args []string) error

	Users(ctx context.Context, args []string) error
	Stats(ctx context.Context) error
	SetActive(ctx context.Context, args []string, active bool) error
	Note(ctx context.Context, args []string) error
	IssueCode(ctx context.Context, args []string) error
	DeleteUser(ctx context.Context, args []string) error
}

const (
	helpSignedOut = "Available commands: register, login, status, exit"
	helpSignedIn  = "Available commands: profile, setname, exam, sync, redirect, redeem, status, logout, exit"
	helpAdmin     = "Admin commands: users, stats, activate, deactivate, note, issue, delete"
)

// runREPL starts a simple read–eval–print loop for the exam registration CLI.
//
// It reads a line from reader, parses the first token as the command, and
// dispatches to methods on 'a' with the remaining tokens as arguments. The
// loop exits on EOF or when the user types "exit" or "quit".
//
//	Signed out:
//	  - register              create an account, verify email, enter exam ranks
//	  - login                 authenticate
//
//	Signed in:
//	  - profile               show the current profile
//	  - setname <name...>     change the display name
//	  - exam <subject> <rank> record an exam rank
//	  - sync                  push changes saved while offline
//	  - redirect [url]        open the companion site with the session token
//	  - redeem <code>         redeem a premium access code
//	  - logout
//
//	Admin:
//	  - users [role=..] [active=..] [q=..] [sort=..] [desc] [size=..] [after=..]
//	  - stats
//	  - activate|deactivate <uid...>
//	  - note <uid> <text...>
//	  - issue [days]
//	  - delete <uid>
//
// Command errors are printed and the loop keeps going.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		printlnFn(fmt.Sprintf("exam> %s > ", statusFn()))
		line, err := reader.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || strings.TrimSpace(line) == "") {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		if done := dispatch(ctx, a, cmd, args); done {
			return
		}
	}
}

func dispatch(ctx context.Context, a execIface, cmd string, args []string) bool {
	var err error

	switch cmd {
	case "help":
		switch {
		case a.isAdmin():
			printlnFn(helpSignedIn)
			printlnFn(helpAdmin)
		case a.isLoggedIn():
			printlnFn(helpSignedIn)
		default:
			printlnFn(helpSignedOut)
		}
	case "status":
		err = a.Status(ctx)

	case "register":
		err = a.Register(ctx)
	case "login":
		err = a.Login(ctx)
	case "logout":
		err = a.Logout(ctx)

	case "profile":
		err = a.ShowProfile(ctx)
	case "setname":
		err = a.SetName(ctx, args)
	case "exam":
		err = a.SetExam(ctx, args)
	case "sync":
		err = a.Sync(ctx)
	case "redirect":
		err = a.Redirect(ctx, args)
	case "redeem":
		err = a.Redeem(ctx, args)

	case "users":
		err = a.Users(ctx, args)
	case "stats":
		err = a.Stats(ctx)
	case "activate":
		err = a.SetActive(ctx, args, true)
	case "deactivate":
		err = a.SetActive(ctx, args, false)
	case "note":
		err = a.Note(ctx, args)
	case "issue":
		err = a.IssueCode(ctx, args)
	case "delete":
		err = a.DeleteUser(ctx, args)

	case "exit", "quit":
		printlnFn("Bye!")
		return true

	default:
		printlnFn("Unknown command:", cmd)
	}

	if err != nil {
		printlnFn("Error:", err)
	}
	return false
}
