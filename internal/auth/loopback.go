package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrNoCallback is returned when the context ends before the redirect arrives.
var ErrNoCallback = errors.New("no authorization callback received")

// LoopbackApprover is an Approver for command line use. It serves the
// redirect URI on a local listener and hands the authorize URL to Open
// (typically printing it or launching a browser).
type LoopbackApprover struct {
	Listener net.Listener
	Path     string
	Open     func(authURL string) error
}

// NewLoopbackApprover listens on addr (e.g. "127.0.0.1:8765").
func NewLoopbackApprover(addr, path string, open func(string) error) (*LoopbackApprover, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &LoopbackApprover{Listener: ln, Path: path, Open: open}, nil
}

// RedirectURL is the URL to register with the provider.
func (a *LoopbackApprover) RedirectURL() string {
	return "http://" + a.Listener.Addr().String() + a.Path
}

func (a *LoopbackApprover) Approve(ctx context.Context, authURL string) (Callback, error) {
	got := make(chan Callback, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(a.Path, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		cb := Callback{State: q.Get("state"), Code: q.Get("code"), Error: q.Get("error")}
		if cb.Error != "" {
			fmt.Fprintln(w, "Authorization was not granted. You can close this window.")
		} else {
			fmt.Fprintln(w, "Connected. You can close this window.")
		}
		select {
		case got <- cb:
		default:
		}
	})

	srv := &http.Server{Handler: mux}
	go srv.Serve(a.Listener)
	defer srv.Close()

	if err := a.Open(authURL); err != nil {
		return Callback{}, err
	}

	select {
	case cb := <-got:
		return cb, nil
	case <-ctx.Done():
		return Callback{}, fmt.Errorf("%w: %v", ErrNoCallback, ctx.Err())
	}
}
