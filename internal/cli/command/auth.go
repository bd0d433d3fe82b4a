package command

import (
	"github.com/urfave/cli/v2"

	"github.com/spec-kit/canvas-sync/internal/client/session"
)

func credentialFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "email", Aliases: []string{"e"}, Usage: "Account email", Required: true},
		&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Usage: "Account password", EnvVars: []string{"CANVASCTL_PASSWORD"}, Required: true},
	}
}

// SignupCommand creates an account and stores its session.
func SignupCommand() *cli.Command {
	return &cli.Command{
		Name:  "signup",
		Usage: "Create an account",
		Flags: append(credentialFlags(), &cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Display name"}),
		Action: func(c *cli.Context) error {
			rt, err := GetRuntime(c)
			if err != nil {
				return err
			}
			status, err := rt.Session.Signup(ctx(c), c.String("email"), c.String("password"), c.String("name"))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return printStatus(c, status)
		},
	}
}

// LoginCommand authenticates and stores the session.
func LoginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Log in to an existing account",
		Flags: credentialFlags(),
		Action: func(c *cli.Context) error {
			rt, err := GetRuntime(c)
			if err != nil {
				return err
			}
			status, err := rt.Session.Login(ctx(c), c.String("email"), c.String("password"))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return printStatus(c, status)
		},
	}
}

// LogoutCommand forgets the stored session and revokes its token.
func LogoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Log out and forget the stored session",
		Action: func(c *cli.Context) error {
			rt, err := GetRuntime(c)
			if err != nil {
				return err
			}
			if err := rt.Session.Logout(ctx(c)); err != nil {
				return err
			}
			return printStatus(c, rt.Session.Current())
		},
	}
}

// WhoamiCommand shows the current session. The stored token has already
// been checked once by the time it runs; --validate checks it again.
func WhoamiCommand() *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "Show the current session",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "validate", Usage: "Re-check the token with the server"},
		},
		Action: func(c *cli.Context) error {
			rt, err := GetRuntime(c)
			if err != nil {
				return err
			}
			if c.Bool("validate") && rt.Session.Current().IsAuthenticated() {
				res, err := rt.Session.Validate(ctx(c))
				if err != nil {
					return err
				}
				if res.Outcome == session.OutcomeUnreachable {
					return cli.Exit("server unreachable; session not confirmed", 1)
				}
			}
			return printStatus(c, rt.Session.Current())
		},
	}
}

type statusView struct {
	State     string `json:"state"`
	Confirmed bool   `json:"confirmed"`
	ID        string `json:"id,omitempty"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
}

func printStatus(c *cli.Context, s session.Status) error {
	return printJSON(c, statusView{
		State:     s.State.String(),
		Confirmed: s.Confirmed,
		ID:        s.Profile.ID,
		Email:     s.Profile.Email,
		Name:      s.Profile.Name,
	})
}
