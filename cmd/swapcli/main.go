// swapcli is the command-line companion to swapd, speaking its
// action-surface HTTP API: list and inspect swaps, accept or decline an
// incoming request, and fetch the deploy/fund/redeem/refund payloads.
package main

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"
)

// globalOpts are the flags shared by every subcommand.
type globalOpts struct {
	Host    string `long:"host" description:"swapd HTTP API address" default:"127.0.0.1:8000"`
	TLSCert string `long:"tlscert" description:"Path to swapd's TLS certificate" default:"~/.swapd/tls.cert"`
}

var opts globalOpts

func main() {
	parser := flags.NewParser(&opts, flags.Default)

	parser.AddCommand("create", "Create a new swap",
		"Submit a new swap request as the initiating (Alice) side; the "+
			"body is read from stdin as JSON.", &createCmd{})
	parser.AddCommand("list", "List all swaps",
		"List every swap the daemon knows about.", &listCmd{})
	parser.AddCommand("show", "Show one swap",
		"Show a swap's state and available actions.", &showCmd{})
	parser.AddCommand("accept", "Accept an incoming swap",
		"Accept an incoming swap request.", &acceptCmd{})
	parser.AddCommand("decline", "Decline an incoming swap",
		"Decline an incoming swap request.", &declineCmd{})
	parser.AddCommand("deploy", "Fetch the deploy payload",
		"Fetch the ERC-20 HTLC deployment payload.", &deployCmd{})
	parser.AddCommand("fund", "Fetch the fund payload",
		"Fetch the funding payload for the local leg.", &fundCmd{})
	parser.AddCommand("redeem", "Fetch the redeem payload",
		"Fetch the redemption payload; bitcoin legs require --address "+
			"and --fee-per-byte.", &redeemCmd{})
	parser.AddCommand("refund", "Fetch the refund payload",
		"Fetch the refund payload; bitcoin legs require --address and "+
			"--fee-per-byte.", &refundCmd{})

	if _, err := parser.Parse(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[swapcli] %v\n", err)
	os.Exit(1)
}

// client builds an HTTP client trusting the daemon's self-signed cert.
func client() *http.Client {
	certPath := expandPath(opts.TLSCert)
	tlsCfg := &tls.Config{}

	if pem, err := os.ReadFile(certPath); err == nil {
		pool := x509.NewCertPool()
		if pool.AppendCertsFromPEM(pem) {
			tlsCfg.RootCAs = pool
		}
	} else {
		// No cert on disk; the operator is probably pointing at a
		// remote daemon. Fail closed rather than skip verification.
		fatal(fmt.Errorf("reading %s: %w", certPath, err))
	}

	return &http.Client{Transport: &http.Transport{TLSClientConfig: tlsCfg}}
}

func apiURL(path string, query url.Values) string {
	u := url.URL{Scheme: "https", Host: opts.Host, Path: path}
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// call performs the request and pretty-prints the JSON response.
func call(method, path string, query url.Values, body io.Reader) {
	req, err := http.NewRequest(method, apiURL(path, query), body)
	if err != nil {
		fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client().Do(req)
	if err != nil {
		fatal(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		fatal(err)
	}
	if resp.StatusCode >= 400 {
		fatal(fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(raw)))
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		fmt.Println("ok")
		return
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		os.Stdout.Write(raw)
		return
	}
	fmt.Println(pretty.String())
}

type idArgs struct {
	ID string `positional-arg-name:"swap-id" required:"true"`
}

type createCmd struct{}

func (c *createCmd) Execute(_ []string) error {
	body, err := io.ReadAll(os.Stdin)
	if err != nil {
		fatal(err)
	}
	call(http.MethodPost, "/swaps", nil, bytes.NewReader(body))
	return nil
}

type listCmd struct{}

func (c *listCmd) Execute(_ []string) error {
	call(http.MethodGet, "/swaps", nil, nil)
	return nil
}

type showCmd struct {
	Args idArgs `positional-args:"true"`
}

func (c *showCmd) Execute(_ []string) error {
	call(http.MethodGet, "/swaps/"+c.Args.ID, nil, nil)
	return nil
}

type acceptCmd struct {
	Args idArgs `positional-args:"true"`
}

func (c *acceptCmd) Execute(_ []string) error {
	call(http.MethodPost, "/swaps/"+c.Args.ID+"/accept", nil, nil)
	return nil
}

type declineCmd struct {
	Args   idArgs `positional-args:"true"`
	Reason string `long:"reason" description:"Optional decline reason"`
}

func (c *declineCmd) Execute(_ []string) error {
	body, _ := json.Marshal(map[string]string{"reason": c.Reason})
	call(http.MethodPost, "/swaps/"+c.Args.ID+"/decline", nil, bytes.NewReader(body))
	return nil
}

type deployCmd struct {
	Args idArgs `positional-args:"true"`
}

func (c *deployCmd) Execute(_ []string) error {
	call(http.MethodGet, "/swaps/"+c.Args.ID+"/deploy", nil, nil)
	return nil
}

type fundCmd struct {
	Args idArgs `positional-args:"true"`
}

func (c *fundCmd) Execute(_ []string) error {
	call(http.MethodGet, "/swaps/"+c.Args.ID+"/fund", nil, nil)
	return nil
}

// spendOpts are the caller-supplied parameters a bitcoin redeem/refund
// needs (spec §4.9).
type spendOpts struct {
	Address    string `long:"address" description:"Bitcoin address to send the funds to"`
	FeePerByte string `long:"fee-per-byte" description:"Fee per byte as a positive float"`
}

func (o spendOpts) query() url.Values {
	q := url.Values{}
	if o.Address != "" {
		q.Set("address", o.Address)
	}
	if o.FeePerByte != "" {
		q.Set("fee_per_byte", o.FeePerByte)
	}
	return q
}

type redeemCmd struct {
	Args idArgs `positional-args:"true"`
	spendOpts
}

func (c *redeemCmd) Execute(_ []string) error {
	call(http.MethodGet, "/swaps/"+c.Args.ID+"/redeem", c.query(), nil)
	return nil
}

type refundCmd struct {
	Args idArgs `positional-args:"true"`
	spendOpts
}

func (c *refundCmd) Execute(_ []string) error {
	call(http.MethodGet, "/swaps/"+c.Args.ID+"/refund", c.query(), nil)
	return nil
}

func expandPath(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
