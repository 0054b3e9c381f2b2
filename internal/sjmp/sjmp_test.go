package sjmp

import (
	"context"
	"testing"
	"time"
)

func TestParseAddressUnixScheme(t *testing.T) {
	network, address, err := ParseAddress("unix:///tmp/fibbingd.sock")
	if err != nil {
		t.Fatal(err)
	}
	if network != "unix" || address != "/tmp/fibbingd.sock" {
		t.Fatalf("got %s %s", network, address)
	}
}

func TestParseAddressTCP(t *testing.T) {
	network, address, err := ParseAddress("tcp://127.0.0.1:6000")
	if err != nil {
		t.Fatal(err)
	}
	if network != "tcp" || address != "127.0.0.1:6000" {
		t.Fatalf("got %s %s", network, address)
	}
}

func TestExecRoundTrip(t *testing.T) {
	target := Target{
		"ping": Method{
			Func: func(args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
				return "pong!", nil
			},
		},
	}
	ln, err := Listen("tcp://127.0.0.1:0", target, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go ln.Serve(ctx)

	client, err := Dial(ctx, "tcp://"+ln.Addr().String(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	go client.Communicate(ctx)

	if err := client.Execute("ping", nil, nil); err != nil {
		t.Fatal(err)
	}
	// No assertion beyond "no panic / no error": the reply is logged,
	// not synchronously returned, matching the original's fire-and-log
	// RESULT handling rather than a request/response future.
	time.Sleep(50 * time.Millisecond)
}
