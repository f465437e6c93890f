package psi

import (
	"context"
	"fmt"
	"net"
)

// DialTransport connects to a peer already listening via
// ListenTransport, opening the three legs a run needs: the scratch
// socket on port, the OPRF socket on port+1, and the polynomial
// socket on port+2. Connections are attempted in that order since the
// listener side accepts them in the same order.
func DialTransport(ctx context.Context, peerAddr string, port int) (Transport, error) {
	var d net.Dialer
	bins, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", peerAddr, port))
	if err != nil {
		return Transport{}, &NetworkError{Op: "dial bins socket", Err: err}
	}
	oprfConn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", peerAddr, port+1))
	if err != nil {
		bins.Close()
		return Transport{}, &NetworkError{Op: "dial oprf socket", Err: err}
	}
	poly, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", peerAddr, port+2))
	if err != nil {
		bins.Close()
		oprfConn.Close()
		return Transport{}, &NetworkError{Op: "dial polynomial socket", Err: err}
	}
	return Transport{Bins: bins, OPRF: oprfConn, Poly: poly}, nil
}

// ListenTransport listens on port, port+1 and port+2 and accepts one
// connection on each, in that order, matching the sequence
// DialTransport's caller dials in.
func ListenTransport(ctx context.Context, port int) (Transport, error) {
	bins, err := acceptOne(ctx, port)
	if err != nil {
		return Transport{}, &NetworkError{Op: "listen bins socket", Err: err}
	}
	oprfConn, err := acceptOne(ctx, port+1)
	if err != nil {
		bins.Close()
		return Transport{}, &NetworkError{Op: "listen oprf socket", Err: err}
	}
	poly, err := acceptOne(ctx, port+2)
	if err != nil {
		bins.Close()
		oprfConn.Close()
		return Transport{}, &NetworkError{Op: "listen polynomial socket", Err: err}
	}
	return Transport{Bins: bins, OPRF: oprfConn, Poly: poly}, nil
}

func acceptOne(ctx context.Context, port int) (net.Conn, error) {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	defer ln.Close()

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		ch <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.conn, r.err
	}
}
