package commands

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/darkace1998/video-pipeline/internal/auth"
	"github.com/darkace1998/video-pipeline/internal/config"
)

// Token signs an admin bearer token locally with the shared admin secret
func Token(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	secret := fs.String("secret", os.Getenv(config.EnvAdminSecret), "Admin secret (default from "+config.EnvAdminSecret+")")
	subject := fs.String("subject", "cli", "Token subject")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *secret == "" {
		return errors.New("admin secret is required (--secret or " + config.EnvAdminSecret + ")")
	}

	token, err := auth.NewAuthority(*secret).Issue(*subject, auth.RoleAdmin, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}
