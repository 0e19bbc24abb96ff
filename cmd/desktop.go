package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goscan/pkg/protocol"
	"github.com/nextlevelbuilder/goscan/pkg/scanpair"
)

func desktopCmd() *cobra.Command {
	var (
		serverURL    string
		userID       string
		gatewayToken string
		outDir       string
		lang         string
	)
	cmd := &cobra.Command{
		Use:   "desktop",
		Short: "Start a scan session, show its QR code and save pages sent from the phone",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDesktop(desktopOptions{
				serverURL:    serverURL,
				userID:       userID,
				gatewayToken: gatewayToken,
				outDir:       outDir,
				lang:         lang,
			})
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "gateway URL (default device.server_url)")
	cmd.Flags().StringVar(&userID, "user", "", "user id to sign in as (default current OS user)")
	cmd.Flags().StringVar(&gatewayToken, "gateway-token", "", "gateway token for sign-in (default gateway.token)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "scans", "directory for received pages")
	cmd.Flags().StringVar(&lang, "lang", "", "language for error screens (default device.language)")
	return cmd
}

type desktopOptions struct {
	serverURL, userID, gatewayToken, outDir, lang string
}

func runDesktop(opts desktopOptions) error {
	cfg := mustLoadConfig()
	server := deviceServerURL(opts.serverURL, cfg)
	if opts.lang == "" {
		opts.lang = cfg.Device.Language
	}
	if opts.userID == "" {
		if u, err := user.Current(); err == nil {
			opts.userID = u.Username
		}
	}
	if opts.gatewayToken == "" {
		opts.gatewayToken = cfg.Gateway.Token
	}
	if opts.gatewayToken == "" {
		tok, err := promptSecret("Gateway token", "Token configured as gateway.token on the server")
		if err != nil {
			return err
		}
		opts.gatewayToken = tok
	}
	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := scanpair.NewAPIClient(server, nil).WithMaxDownload(cfg.Storage.MaxBytes)
	tokens, err := api.SignIn(ctx, opts.gatewayToken, opts.userID)
	if err != nil {
		return errors.New(formatGatewayError(err))
	}
	conn, err := scanpair.Dial(ctx, server, tokens.AccessToken)
	if err != nil {
		return errors.New(formatGatewayError(err))
	}
	defer conn.Close()

	// Downloads outlive the signal context so a Finish on Ctrl-C still saves
	// pages announced just before it.
	dlCtx, dlCancel := context.WithCancel(context.Background())
	defer dlCancel()

	var saved atomic.Int32
	desktop := scanpair.NewDesktop(api.WithToken(tokens.AccessToken), conn)
	desktop.OnPresence = func(diff protocol.PresenceDiff) {
		for _, j := range diff.Joins {
			if j.Role == protocol.RoleMobile {
				fmt.Println("📱 Phone joined the session.")
			}
		}
	}
	desktop.OnImage = func(msg protocol.CapturedImageMessage) {
		data, err := desktop.Download(dlCtx, msg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not download %s: %s\n", msg.ImageName, formatGatewayError(err))
			return
		}
		path := filepath.Join(opts.outDir, filepath.Base(msg.ImageName))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Could not save %s: %s\n", path, err)
			return
		}
		n := saved.Add(1)
		fmt.Println(statusSuccess.Render(fmt.Sprintf("✓ Page %d saved: %s (%d bytes)", n, path, len(data))))
	}
	desktop.OnRelayError = func(msg protocol.CapturedImageMessage) {
		fmt.Fprintf(os.Stderr, "⚠️ Phone could not upload a page: %s\n", msg.ErrorMessage)
	}

	sess, err := desktop.Start(ctx)
	if err != nil {
		if errors.Is(err, scanpair.ErrSubscribeFailed) {
			fmt.Println(renderErrorScreen(scanpair.ScreenFor(err, scanpair.ParseLanguage(opts.lang))))
			return err
		}
		return errors.New(formatGatewayError(err))
	}

	qr, err := qrcode.New(sess.BootstrapURL, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("encode qr: %w", err)
	}
	fmt.Println(qr.ToSmallString(false))
	fmt.Println("Scan with your phone, or run:")
	fmt.Printf("  goscan mobile --link '%s'\n\n", sess.BootstrapURL)
	fmt.Println("Waiting for the phone. Press Ctrl-C to finish.")

	lc := desktop.Lifecycle()
	terminal := make(chan scanpair.State, 1)
	go func() {
		st, _ := lc.Wait(context.Background(), scanpair.StateEnded, scanpair.StateError)
		terminal <- st
	}()
	go func() {
		if _, err := lc.Wait(ctx, scanpair.StateConnected); err == nil {
			fmt.Println("🔗 Connected. Capture pages on the phone.")
		}
	}()

	var final scanpair.State
	select {
	case final = <-terminal:
	case <-ctx.Done():
		if lc.State() == scanpair.StateConnected {
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := desktop.Finish(fctx); err != nil {
				slog.Warn("finish session", "error", err)
				desktop.Cancel()
			}
			cancel()
		} else {
			desktop.Cancel()
		}
		final = <-terminal
	}

	cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := api.WithToken(tokens.AccessToken).DeleteScanSession(cleanupCtx, sess.ID); err != nil {
		slog.Debug("delete scan session", "id", sess.ID, "error", err)
	}

	if final == scanpair.StateError {
		fmt.Println(renderErrorScreen(scanpair.ScreenFor(lc.Err(), scanpair.ParseLanguage(opts.lang))))
		return lc.Err()
	}
	fmt.Printf("Session ended. %d page(s) saved to %s\n", saved.Load(), opts.outDir)
	return nil
}
