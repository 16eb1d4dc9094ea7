package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/Strob0t/iotbridge/internal/adapter/postgres"
	"github.com/Strob0t/iotbridge/internal/adapter/wireguard"
	"github.com/Strob0t/iotbridge/internal/config"
	"github.com/Strob0t/iotbridge/internal/domain/tenant"
	"github.com/Strob0t/iotbridge/internal/port/pki"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "join":
		return runAdminJoin(args[1:])
	case "tenant":
		return runAdminTenant(args[1:])
	case "wg-keygen":
		return runAdminWGKeygen(args[1:])
	case "wg-peers":
		return runAdminWGPeers(args[1:])
	case "provisioners":
		return runAdminProvisioners(args[1:])
	case "broker":
		return runAdminBroker(args[1:])
	case "migrate":
		return runAdminMigrate(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: iotbridge admin <command> [options]

Commands:
  join list                          List JOIN requests, newest first
  join approve <tenant>              Approve a pending JOIN request
  join reject [-reason R] <tenant>   Reject a pending JOIN request
  tenant create [options] <realm>    Create a tenant realm, admin user and vhost
  tenant delete <realm>              Delete a tenant realm and its vhost
  wg-keygen                          Generate a WireGuard key pair
  wg-peers                           List allocated VPN addresses
  provisioners list                  List step-ca provisioners
  provisioners add-oidc [options]    Add an OIDC provisioner
  provisioners remove <name>         Remove a provisioner
  broker deprovision <tenant>        Delete a tenant's vhost and bridge user
  migrate up|down|status             Manage the Postgres schema
  help                               Show this help message

Examples:
  iotbridge admin join list
  iotbridge admin join reject -reason "unknown operator" acme
  iotbridge admin tenant create -display-name "Acme Corp" acme
  iotbridge admin provisioners add-oidc -name keycloak -client-id step -endpoint https://kc/auth/realms/cdm/.well-known/openid-configuration
  iotbridge admin migrate down -steps 1
`)
}

// loadAdminDeps wires the same services as the server, logging to stderr.
func loadAdminDeps(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	return newApp(ctx, cfg, nil)
}

// ---------------------------------------------------------------------------
// join
// ---------------------------------------------------------------------------

func runAdminJoin(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: iotbridge admin join list|approve|reject")
	}
	switch args[0] {
	case "list":
		return runAdminJoinList(args[1:])
	case "approve":
		return runAdminJoinApprove(args[1:])
	case "reject":
		return runAdminJoinReject(args[1:])
	default:
		return fmt.Errorf("unknown join command: %s", args[0])
	}
}

func runAdminJoinList(args []string) error {
	fs := flag.NewFlagSet("join list", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	a, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	all, err := a.join.List(ctx)
	if err != nil {
		return fmt.Errorf("list join requests: %w", err)
	}
	if len(all) == 0 {
		fmt.Println("No JOIN requests found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TENANT\tDISPLAY_NAME\tSTATUS\tREQUESTED_AT\tWG_CLIENT_IP")
	for _, r := range all {
		ip := "-"
		if r.WGClientIP != nil {
			ip = *r.WGClientIP
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.TenantID, r.DisplayName, r.Status, r.RequestedAt.Format(time.RFC3339), ip)
	}
	return w.Flush()
}

func runAdminJoinApprove(args []string) error {
	fs := flag.NewFlagSet("join approve", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: iotbridge admin join approve <tenant>")
	}

	ctx := context.Background()
	a, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.join.Approve(ctx, fs.Arg(0))
	if err != nil {
		return fmt.Errorf("approve: %w", err)
	}

	if err := printSteps(res.Results, res.Errors); err != nil {
		return err
	}

	// The bundle carries the federation client secret; it goes to stdout only.
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res.Bundle)
}

func runAdminJoinReject(args []string) error {
	fs := flag.NewFlagSet("join reject", flag.ContinueOnError)
	reason := fs.String("reason", "", "reason shown to the tenant")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: iotbridge admin join reject [-reason R] <tenant>")
	}

	ctx := context.Background()
	a, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	req, err := a.join.Reject(ctx, fs.Arg(0), *reason)
	if err != nil {
		return fmt.Errorf("reject: %w", err)
	}
	fmt.Fprintf(os.Stderr, "JOIN request of %s rejected: %s\n", req.TenantID, *req.RejectedReason)
	return nil
}

// ---------------------------------------------------------------------------
// tenant
// ---------------------------------------------------------------------------

func runAdminTenant(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: iotbridge admin tenant create|delete")
	}
	switch args[0] {
	case "create":
		return runAdminTenantCreate(args[1:])
	case "delete":
		return runAdminTenantDelete(args[1:])
	default:
		return fmt.Errorf("unknown tenant command: %s", args[0])
	}
}

func runAdminTenantCreate(args []string) error {
	fs := flag.NewFlagSet("tenant create", flag.ContinueOnError)
	displayName := fs.String("display-name", "", "realm display name (default: realm ID)")
	adminEmail := fs.String("admin-email", "", "initial admin e-mail (default: admin@<realm>.local)")
	adminUser := fs.String("admin-user", "", "initial admin username (default: <realm>-admin)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: iotbridge admin tenant create [options] <realm>")
	}

	ctx := context.Background()
	a, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.tenants.Create(ctx, tenant.CreateRequest{
		RealmID:     fs.Arg(0),
		DisplayName: *displayName,
		AdminEmail:  *adminEmail,
		AdminUser:   *adminUser,
	})
	if err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	if err := printSteps(res.Results, res.Errors); err != nil {
		return err
	}

	// The result carries the temporary passwords; it goes to stdout only.
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func runAdminTenantDelete(args []string) error {
	fs := flag.NewFlagSet("tenant delete", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: iotbridge admin tenant delete <realm>")
	}

	ctx := context.Background()
	a, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.tenants.Delete(ctx, fs.Arg(0))
	if err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}
	if err := printSteps(res.Results, res.Errors); err != nil {
		return err
	}
	if len(res.Errors) > 0 {
		return fmt.Errorf("tenant %s partially deleted", res.RealmID)
	}
	return nil
}

// ---------------------------------------------------------------------------
// wireguard
// ---------------------------------------------------------------------------

func runAdminWGKeygen(args []string) error {
	fs := flag.NewFlagSet("wg-keygen", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	kp, err := wireguard.GenerateKeyPair()
	if err != nil {
		return err
	}
	fmt.Printf("PrivateKey = %s\nPublicKey = %s\n", kp.PrivateKey, kp.PublicKey)
	return nil
}

func runAdminWGPeers(args []string) error {
	fs := flag.NewFlagSet("wg-peers", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	vpn, err := wireguard.New(cfg.WireGuard)
	if err != nil {
		return err
	}
	peers, err := vpn.Peers(context.Background())
	if err != nil {
		return fmt.Errorf("list peers: %w", err)
	}
	if len(peers) == 0 {
		fmt.Println("No addresses allocated.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PEER\tADDRESS")
	for _, id := range sortedKeys(peers) {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", id, peers[id])
	}
	return w.Flush()
}

// ---------------------------------------------------------------------------
// provisioners
// ---------------------------------------------------------------------------

func runAdminProvisioners(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: iotbridge admin provisioners list|add-oidc|remove")
	}
	switch args[0] {
	case "list":
		return runAdminProvisionersList(args[1:])
	case "add-oidc":
		return runAdminProvisionersAddOIDC(args[1:])
	case "remove":
		return runAdminProvisionersRemove(args[1:])
	default:
		return fmt.Errorf("unknown provisioners command: %s", args[0])
	}
}

func loadProvisionerAdmin(ctx context.Context) (*app, error) {
	a, err := loadAdminDeps(ctx)
	if err != nil {
		return nil, err
	}
	if a.provisioners == nil {
		a.close()
		return nil, fmt.Errorf("no admin provisioner configured (STEP_CA_ADMIN_PROVISIONER)")
	}
	return a, nil
}

func runAdminProvisionersList(args []string) error {
	fs := flag.NewFlagSet("provisioners list", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	a, err := loadProvisionerAdmin(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	list, err := a.provisioners.List(ctx)
	if err != nil {
		return fmt.Errorf("list provisioners: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tTYPE\tID")
	for _, p := range list {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, p.Type, p.ID)
	}
	return w.Flush()
}

func runAdminProvisionersAddOIDC(args []string) error {
	fs := flag.NewFlagSet("provisioners add-oidc", flag.ContinueOnError)
	name := fs.String("name", "", "provisioner name (required)")
	clientID := fs.String("client-id", "", "OIDC client ID (required)")
	clientSecret := fs.String("client-secret", "", "OIDC client secret (prompted if not provided)") //nolint:gosec // CLI flag
	endpoint := fs.String("endpoint", "", "OIDC configuration endpoint (required)")
	admins := fs.String("admins", "", "comma separated admin e-mail addresses")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *name == "" {
		return fmt.Errorf("--name is required")
	}
	if *clientID == "" {
		return fmt.Errorf("--client-id is required")
	}

	secret := *clientSecret
	if secret == "" {
		var err error
		secret, err = promptPassword("Client secret: ")
		if err != nil {
			return fmt.Errorf("read client secret: %w", err)
		}
	}

	ctx := context.Background()
	a, err := loadProvisionerAdmin(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	p, err := a.provisioners.AddOIDC(ctx, pki.OIDCProvisioner{
		Name:                  *name,
		ClientID:              *clientID,
		ClientSecret:          secret,
		ConfigurationEndpoint: *endpoint,
		Admins:                splitList(*admins),
	})
	if err != nil {
		return fmt.Errorf("add provisioner: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Provisioner created: %s (type=%s)\n", p.Name, p.Type)
	return nil
}

func runAdminProvisionersRemove(args []string) error {
	fs := flag.NewFlagSet("provisioners remove", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: iotbridge admin provisioners remove <name>")
	}

	ctx := context.Background()
	a, err := loadProvisionerAdmin(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.provisioners.Remove(ctx, fs.Arg(0)); err != nil {
		return fmt.Errorf("remove provisioner: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Provisioner removed: %s\n", fs.Arg(0))
	return nil
}

// ---------------------------------------------------------------------------
// broker
// ---------------------------------------------------------------------------

func runAdminBroker(args []string) error {
	if len(args) == 0 || args[0] != "deprovision" {
		return fmt.Errorf("usage: iotbridge admin broker deprovision <tenant>")
	}
	fs := flag.NewFlagSet("broker deprovision", flag.ContinueOnError)
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: iotbridge admin broker deprovision <tenant>")
	}

	ctx := context.Background()
	a, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.rmq.DeprovisionTenant(ctx, fs.Arg(0)); err != nil {
		return fmt.Errorf("deprovision: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Broker namespace of %s removed\n", fs.Arg(0))
	return nil
}

// ---------------------------------------------------------------------------
// migrate
// ---------------------------------------------------------------------------

func runAdminMigrate(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: iotbridge admin migrate up|down|status")
	}
	fs := flag.NewFlagSet("migrate "+args[0], flag.ContinueOnError)
	steps := fs.Int("steps", 1, "migrations to roll back (down only)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()
	dsn := cfg.Postgres.DSN

	switch args[0] {
	case "up":
		if err := postgres.RunMigrations(ctx, dsn); err != nil {
			return err
		}
	case "down":
		if err := postgres.RollbackMigrations(ctx, dsn, *steps); err != nil {
			return err
		}
	case "status":
	default:
		return fmt.Errorf("unknown migrate command: %s", args[0])
	}

	v, err := postgres.MigrationVersion(ctx, dsn)
	if err != nil {
		return err
	}
	fmt.Printf("schema version: %d\n", v)
	return nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// promptPassword reads a secret from the terminal without echoing.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// printSteps writes the per-step outcome of a best-effort operation to stderr.
func printSteps(results, errs map[string]string) error {
	w := tabwriter.NewWriter(os.Stderr, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STEP\tRESULT")
	for _, step := range sortedKeys(results) {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", step, results[step])
	}
	for _, step := range sortedKeys(errs) {
		_, _ = fmt.Fprintf(w, "%s\tFAILED: %s\n", step, errs[step])
	}
	return w.Flush()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
