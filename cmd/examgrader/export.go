package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pavelanni/examgrader/internal/auth"
	"github.com/pavelanni/examgrader/internal/report"
)

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export grades of submitted attempts as JSON or XLSX",
		RunE:  runExport,
	}
	f := cmd.Flags()
	addDBFlags(cmd)
	f.String("exam-id", "", "Only export this exam")
	f.StringP("format", "f", string(report.FormatJSON), "Output format (json, xlsx)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(cmd)
	return cmd
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	format, err := report.ParseFormat(v.GetString("format"))
	if err != nil {
		return err
	}

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.ListGradeRows(ctx, v.GetString("exam-id"))
	if err != nil {
		return fmt.Errorf("list grades: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if err := report.Write(w, format, rows); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print an access token for a user",
		RunE:  runToken,
	}
	f := cmd.Flags()
	addDBFlags(cmd)
	f.StringP("username", "u", "", "User to issue the token for (required)")
	f.String("jwt-secret", "", "HMAC secret for access tokens (or set EXAMGRADER_JWT_SECRET)")
	f.Duration("token-ttl", auth.DefaultTTL, "Access token lifetime")
	addLogFlags(cmd)
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func runToken(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	tokens, err := auth.New(v.GetString("jwt-secret"), v.GetDuration("token-ttl"))
	if err != nil {
		return err
	}
	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	username := v.GetString("username")
	u, err := db.GetUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	if u == nil || !u.Active {
		return fmt.Errorf("no active user %q", username)
	}
	tok, err := tokens.Issue(*u)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
	return err
}
