package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/nextlevelbuilder/goscan/internal/config"
	"github.com/nextlevelbuilder/goscan/pkg/scanpair"
)

func mobileCmd() *cobra.Command {
	var opts mobileOptions
	cmd := &cobra.Command{
		Use:   "mobile",
		Short: "Act as the phone: redeem a QR link and send pages to the desktop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMobile(opts)
		},
	}
	cmd.Flags().StringVar(&opts.link, "link", "", "bootstrap URL from the desktop QR code")
	cmd.Flags().StringVar(&opts.serverURL, "server", "", "gateway URL (default device.server_url)")
	cmd.Flags().StringVar(&opts.callbackURL, "callback", "", "sign-in callback URL (default auth.callback_url or <server>/m/callback)")
	cmd.Flags().StringVar(&opts.cameraDir, "camera-dir", "", "directory of still images used as the camera")
	cmd.Flags().IntVar(&opts.pages, "pages", 0, "capture this many pages then finish, without prompting")
	cmd.Flags().StringVar(&opts.lang, "lang", "", "language for error screens (default device.language)")
	cmd.MarkFlagRequired("camera-dir")
	return cmd
}

type mobileOptions struct {
	link, serverURL, callbackURL, cameraDir, lang string
	pages                                         int
}

type mobileAction string

const (
	actionCapture mobileAction = "capture"
	actionFinish  mobileAction = "finish"
	actionCancel  mobileAction = "cancel"
)

func runMobile(opts mobileOptions) error {
	cfg := mustLoadConfig()
	server := deviceServerURL(opts.serverURL, cfg)
	if opts.lang == "" {
		opts.lang = cfg.Device.Language
	}
	lang := scanpair.ParseLanguage(opts.lang)

	if opts.link == "" {
		link, err := promptString("Bootstrap link", "Paste the URL encoded in the desktop QR code", "", func(s string) error {
			_, err := scanpair.ParseBootstrapURL(s)
			return err
		})
		if err != nil {
			return err
		}
		opts.link = link
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := scanpair.NewAPIClient(server, nil)
	target, err := redeemLink(ctx, cfg, api, server, opts)
	if err != nil {
		return showScreen(err, lang)
	}
	fmt.Printf("Signed in for scan session %s.\n", target.ScanSessionID)

	conn, err := scanpair.Dial(ctx, server, target.Session.AccessToken)
	if err != nil {
		return errors.New(formatGatewayError(err))
	}
	defer conn.Close()

	capture := scanpair.NewCaptureController(scanpair.NewDirCamera(opts.cameraDir))
	mobile := scanpair.NewMobile(conn, capture, scanpair.NewAPIUploader(api.WithToken(target.Session.AccessToken)))
	if err := mobile.Start(ctx, target); err != nil {
		return showScreen(err, lang)
	}
	defer mobile.Cancel()

	lc := mobile.Lifecycle()
	st, err := lc.Wait(ctx, scanpair.StateConnected, scanpair.StateEnded, scanpair.StateError)
	if err != nil {
		mobile.Cancel()
		return nil
	}
	if st == scanpair.StateConnected {
		fmt.Println("🔗 Connected to the desktop.")
		if err := mobileLoop(ctx, mobile, opts.pages, lang); err != nil {
			return err
		}
	}

	switch lc.State() {
	case scanpair.StateError:
		return showScreen(lc.Err(), lang)
	case scanpair.StateEnded:
		fmt.Println("Session ended.")
	}
	return nil
}

// redeemLink runs the handoff. A context left behind by an interrupted
// handoff is discarded after confirmation and the handoff retried once.
func redeemLink(ctx context.Context, cfg *config.Config, api *scanpair.APIClient, server string, opts mobileOptions) (*scanpair.CaptureTarget, error) {
	callback := opts.callbackURL
	if callback == "" {
		callback = cfg.Auth.CallbackURL
	}
	if callback == "" {
		callback = server + "/m/callback"
	}
	nav, err := scanpair.NewNavigator(callback, nil)
	if err != nil {
		return nil, err
	}
	mailbox := openMailbox(cfg)
	handoff := scanpair.NewHandoff(api, mailbox, nav, callback)

	target, err := handoff.Start(ctx, opts.link)
	if !errors.Is(err, scanpair.ErrMailboxOccupied) {
		return target, err
	}
	ok, perr := promptConfirm("A previous sign-in did not finish. Discard it and continue?", true)
	if perr != nil || !ok {
		return nil, err
	}
	if err := mailbox.Discard(); err != nil {
		return nil, fmt.Errorf("discard stale auth context: %w", err)
	}
	return handoff.Start(ctx, opts.link)
}

func mobileLoop(ctx context.Context, mobile *scanpair.Mobile, pages int, lang language.Tag) error {
	lc := mobile.Lifecycle()
	captured, attempts := 0, 0
	for lc.State() == scanpair.StateConnected {
		if ctx.Err() != nil {
			mobile.Cancel()
			return nil
		}

		action := actionCapture
		if pages > 0 {
			if attempts >= pages {
				action = actionFinish
			}
		} else {
			var err error
			action, err = promptSelect(fmt.Sprintf("Page %d", captured+1), []SelectOption[mobileAction]{
				{Label: "Capture page", Value: actionCapture},
				{Label: "Finish and send", Value: actionFinish},
				{Label: "Cancel session", Value: actionCancel},
			}, 0)
			if errors.Is(err, errPromptAborted) {
				action = actionCancel
			} else if err != nil {
				mobile.Cancel()
				return err
			}
		}
		if lc.State() != scanpair.StateConnected {
			break
		}

		switch action {
		case actionCapture:
			attempts++
			msg, err := mobile.Capture(ctx)
			var relayErr *scanpair.RelayError
			switch {
			case err == nil:
				captured++
				fmt.Println(statusSuccess.Render(fmt.Sprintf("✓ Sent %s (%d bytes)", msg.ImageName, msg.ImageSize)))
			case errors.As(err, &relayErr):
				fmt.Println(renderErrorScreen(scanpair.ScreenFor(err, lang)))
			case errors.Is(err, scanpair.ErrCaptureBusy), errors.Is(err, scanpair.ErrNotConnected):
			default:
				// Camera failures end the session; the caller shows the screen.
				if lc.State() != scanpair.StateError {
					fmt.Fprintln(os.Stderr, formatGatewayError(err))
				}
			}
		case actionFinish:
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := mobile.Finish(fctx)
			cancel()
			if err != nil {
				mobile.Cancel()
				return errors.New(formatGatewayError(err))
			}
		case actionCancel:
			mobile.Cancel()
		}
	}
	return nil
}

// showScreen prints the error screen for err and returns err so the
// process exits non-zero.
func showScreen(err error, lang language.Tag) error {
	fmt.Println(renderErrorScreen(scanpair.ScreenFor(err, lang)))
	return err
}
