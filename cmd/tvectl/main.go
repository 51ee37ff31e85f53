package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"templane/sdk/go/templane"
)

type repeatStringFlag []string

func (r *repeatStringFlag) String() string { return strings.Join(*r, ",") }
func (r *repeatStringFlag) Set(v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	*r = append(*r, v)
	return nil
}

const usageText = "usage: tvectl versions <create|list|get|publish|archive|clone|schedule-publish|schedule-archive|cancel-schedule> ... | tvectl injectables <add|remove> ... | tvectl signer-roles <add|reorder> ... | tvectl assemble --id <version_id> --value key=val ... | tvectl snapshots get --id <snapshot_id> | tvectl events --id <version_id>"

func main() {
	if len(os.Args) < 2 {
		fail(usageText)
		os.Exit(2)
	}
	switch os.Args[1] {
	case "versions":
		runVersions(os.Args[2:])
	case "injectables":
		runInjectables(os.Args[2:])
	case "signer-roles":
		runSignerRoles(os.Args[2:])
	case "assemble":
		runAssemble(os.Args[2:])
	case "snapshots":
		runSnapshots(os.Args[2:])
	case "events":
		runEvents(os.Args[2:])
	default:
		fail(usageText)
		os.Exit(2)
	}
}

type connFlags struct {
	baseURL *string
	token   *string
}

func newFlagSet(name string) (*flag.FlagSet, *connFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	conn := &connFlags{
		baseURL: fs.String("base-url", envDefault("TVE_BASE_URL", "http://localhost:8084"), "version admin API base URL"),
		token:   fs.String("token", os.Getenv("TVE_ADMIN_TOKEN"), "admin bearer token"),
	}
	return fs, conn
}

func (c *connFlags) client() *templane.Client {
	return templane.NewClient(strings.TrimSpace(*c.baseURL), templane.BearerAuth{Token: strings.TrimSpace(*c.token)})
}

func callCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func runVersions(args []string) {
	if len(args) < 1 {
		fail(usageText)
		os.Exit(2)
	}
	switch args[0] {
	case "create":
		runVersionsCreate(args[1:])
	case "list":
		runVersionsList(args[1:])
	case "get":
		runVersionsGet(args[1:])
	case "publish", "archive", "clone":
		runVersionsLifecycle(args[0], args[1:])
	case "schedule-publish", "schedule-archive":
		runVersionsSchedule(args[0], args[1:])
	case "cancel-schedule":
		runVersionsCancelSchedule(args[1:])
	default:
		fail(usageText)
		os.Exit(2)
	}
}

func runVersionsCreate(args []string) {
	fs, conn := newFlagSet("versions create")
	templateID := fs.String("template", "", "template id")
	workspaceID := fs.String("workspace", "", "workspace id")
	contentPath := fs.String("content", "", "path to template content json (optional)")
	idemKey := fs.String("idempotency-key", "", "idempotency key (generated when empty)")
	if err := fs.Parse(args); err != nil {
		fail(err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*templateID) == "" || strings.TrimSpace(*workspaceID) == "" {
		fail("both --template and --workspace are required")
		os.Exit(2)
	}
	var content json.RawMessage
	if strings.TrimSpace(*contentPath) != "" {
		b, err := os.ReadFile(*contentPath)
		if err != nil {
			fail("read content failed: " + err.Error())
			os.Exit(1)
		}
		if !json.Valid(b) {
			fail("content file is not valid json")
			os.Exit(1)
		}
		content = b
	}
	ctx, cancel := callCtx()
	defer cancel()
	version, err := conn.client().CreateVersion(ctx, *templateID, *workspaceID, content, keyOrNew(*idemKey))
	if err != nil {
		fail(err.Error())
		os.Exit(1)
	}
	printJSON(version)
}

func runVersionsList(args []string) {
	fs, conn := newFlagSet("versions list")
	templateID := fs.String("template", "", "template id")
	if err := fs.Parse(args); err != nil {
		fail(err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*templateID) == "" {
		fail("--template is required")
		os.Exit(2)
	}
	ctx, cancel := callCtx()
	defer cancel()
	versions, err := conn.client().ListVersions(ctx, *templateID)
	if err != nil {
		fail(err.Error())
		os.Exit(1)
	}
	printJSON(versions)
}

func runVersionsGet(args []string) {
	fs, conn := newFlagSet("versions get")
	versionID := fs.String("id", "", "version id")
	if err := fs.Parse(args); err != nil {
		fail(err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*versionID) == "" {
		fail("--id is required")
		os.Exit(2)
	}
	ctx, cancel := callCtx()
	defer cancel()
	detail, err := conn.client().GetVersion(ctx, *versionID)
	if err != nil {
		fail(err.Error())
		os.Exit(1)
	}
	printJSON(detail)
}

func runVersionsLifecycle(action string, args []string) {
	fs, conn := newFlagSet("versions " + action)
	versionID := fs.String("id", "", "version id")
	idemKey := fs.String("idempotency-key", "", "idempotency key (generated when empty)")
	if err := fs.Parse(args); err != nil {
		fail(err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*versionID) == "" {
		fail("--id is required")
		os.Exit(2)
	}
	ctx, cancel := callCtx()
	defer cancel()
	c := conn.client()
	key := keyOrNew(*idemKey)
	var (
		version *templane.TemplateVersion
		err     error
	)
	switch action {
	case "publish":
		version, err = c.Publish(ctx, *versionID, key)
	case "archive":
		version, err = c.Archive(ctx, *versionID, key)
	case "clone":
		version, err = c.Clone(ctx, *versionID, key)
	}
	if err != nil {
		fail(err.Error())
		os.Exit(1)
	}
	printJSON(version)
}

func runVersionsSchedule(action string, args []string) {
	fs, conn := newFlagSet("versions " + action)
	versionID := fs.String("id", "", "version id")
	at := fs.String("at", "", "transition time, RFC3339 UTC")
	if err := fs.Parse(args); err != nil {
		fail(err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*versionID) == "" || strings.TrimSpace(*at) == "" {
		fail("both --id and --at are required")
		os.Exit(2)
	}
	when, err := time.Parse(time.RFC3339, strings.TrimSpace(*at))
	if err != nil {
		fail("parse --at failed: " + err.Error())
		os.Exit(2)
	}
	ctx, cancel := callCtx()
	defer cancel()
	c := conn.client()
	var version *templane.TemplateVersion
	if action == "schedule-publish" {
		version, err = c.SchedulePublish(ctx, *versionID, when)
	} else {
		version, err = c.ScheduleArchive(ctx, *versionID, when)
	}
	if err != nil {
		fail(err.Error())
		os.Exit(1)
	}
	printJSON(version)
}

func runVersionsCancelSchedule(args []string) {
	fs, conn := newFlagSet("versions cancel-schedule")
	versionID := fs.String("id", "", "version id")
	transition := fs.String("transition", "", "PUBLISH or ARCHIVE")
	if err := fs.Parse(args); err != nil {
		fail(err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*versionID) == "" || strings.TrimSpace(*transition) == "" {
		fail("both --id and --transition are required")
		os.Exit(2)
	}
	ctx, cancel := callCtx()
	defer cancel()
	version, err := conn.client().CancelSchedule(ctx, *versionID, strings.ToUpper(strings.TrimSpace(*transition)))
	if err != nil {
		fail(err.Error())
		os.Exit(1)
	}
	printJSON(version)
}

func runInjectables(args []string) {
	if len(args) < 1 {
		fail(usageText)
		os.Exit(2)
	}
	switch args[0] {
	case "add":
		runInjectablesAdd(args[1:])
	case "remove":
		runInjectablesRemove(args[1:])
	default:
		fail(usageText)
		os.Exit(2)
	}
}

func runInjectablesAdd(args []string) {
	fs, conn := newFlagSet("injectables add")
	versionID := fs.String("id", "", "version id")
	key := fs.String("key", "", "injectable key")
	typ := fs.String("type", "TEXT", "TEXT, NUMBER, DATE, CURRENCY or BOOLEAN")
	label := fs.String("label", "", "display label")
	required := fs.Bool("required", false, "value must be provided at assembly")
	defaultValue := fs.String("default", "", "default value")
	var allowed repeatStringFlag
	fs.Var(&allowed, "allowed", "allowed value (repeatable)")
	if err := fs.Parse(args); err != nil {
		fail(err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*versionID) == "" || strings.TrimSpace(*key) == "" {
		fail("both --id and --key are required")
		os.Exit(2)
	}
	inj := templane.Injectable{
		Key:      strings.TrimSpace(*key),
		Label:    strings.TrimSpace(*label),
		Type:     strings.ToUpper(strings.TrimSpace(*typ)),
		Required: *required,
	}
	if strings.TrimSpace(*defaultValue) != "" {
		v := *defaultValue
		inj.DefaultValue = &v
	}
	if len(allowed) > 0 {
		inj.Constraints.AllowedValues = allowed
	}
	ctx, cancel := callCtx()
	defer cancel()
	created, err := conn.client().AddInjectable(ctx, *versionID, inj)
	if err != nil {
		fail(err.Error())
		os.Exit(1)
	}
	printJSON(created)
}

func runInjectablesRemove(args []string) {
	fs, conn := newFlagSet("injectables remove")
	versionID := fs.String("id", "", "version id")
	key := fs.String("key", "", "injectable key")
	if err := fs.Parse(args); err != nil {
		fail(err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*versionID) == "" || strings.TrimSpace(*key) == "" {
		fail("both --id and --key are required")
		os.Exit(2)
	}
	ctx, cancel := callCtx()
	defer cancel()
	if err := conn.client().RemoveInjectable(ctx, *versionID, *key); err != nil {
		fail(err.Error())
		os.Exit(1)
	}
	printJSON(map[string]any{"removed": true, "key": strings.TrimSpace(*key)})
}

func runSignerRoles(args []string) {
	if len(args) < 1 {
		fail(usageText)
		os.Exit(2)
	}
	switch args[0] {
	case "add":
		runSignerRolesAdd(args[1:])
	case "reorder":
		runSignerRolesReorder(args[1:])
	default:
		fail(usageText)
		os.Exit(2)
	}
}

func runSignerRolesAdd(args []string) {
	fs, conn := newFlagSet("signer-roles add")
	versionID := fs.String("id", "", "version id")
	role := fs.String("role", "", "role name")
	anchor := fs.String("anchor", "", "anchor string (derived from role when empty)")
	order := fs.Int("order", 0, "signing order (appended when 0)")
	if err := fs.Parse(args); err != nil {
		fail(err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*versionID) == "" || strings.TrimSpace(*role) == "" {
		fail("both --id and --role are required")
		os.Exit(2)
	}
	var orderPtr *int
	if *order > 0 {
		orderPtr = order
	}
	ctx, cancel := callCtx()
	defer cancel()
	created, err := conn.client().AddSignerRole(ctx, *versionID, *role, *anchor, orderPtr)
	if err != nil {
		fail(err.Error())
		os.Exit(1)
	}
	printJSON(created)
}

func runSignerRolesReorder(args []string) {
	fs, conn := newFlagSet("signer-roles reorder")
	versionID := fs.String("id", "", "version id")
	role := fs.String("role", "", "role name")
	order := fs.Int("order", 0, "new signing order")
	if err := fs.Parse(args); err != nil {
		fail(err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*versionID) == "" || strings.TrimSpace(*role) == "" || *order < 1 {
		fail("--id, --role and a positive --order are required")
		os.Exit(2)
	}
	ctx, cancel := callCtx()
	defer cancel()
	roles, err := conn.client().ReorderSignerRole(ctx, *versionID, *role, *order)
	if err != nil {
		fail(err.Error())
		os.Exit(1)
	}
	printJSON(roles)
}

func runAssemble(args []string) {
	fs, conn := newFlagSet("assemble")
	versionID := fs.String("id", "", "version id")
	var values repeatStringFlag
	fs.Var(&values, "value", "injectable value as key=val (repeatable)")
	if err := fs.Parse(args); err != nil {
		fail(err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*versionID) == "" {
		fail("--id is required")
		os.Exit(2)
	}
	resolved := make(map[string]string, len(values))
	for _, pair := range values {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			fail("--value must be key=val, got " + pair)
			os.Exit(2)
		}
		resolved[strings.TrimSpace(k)] = v
	}
	ctx, cancel := callCtx()
	defer cancel()
	snapshot, err := conn.client().Assemble(ctx, *versionID, resolved)
	if err != nil {
		fail(err.Error())
		os.Exit(1)
	}
	printJSON(snapshot)
}

func runSnapshots(args []string) {
	if len(args) < 1 || args[0] != "get" {
		fail(usageText)
		os.Exit(2)
	}
	fs, conn := newFlagSet("snapshots get")
	snapshotID := fs.String("id", "", "snapshot id")
	if err := fs.Parse(args[1:]); err != nil {
		fail(err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*snapshotID) == "" {
		fail("--id is required")
		os.Exit(2)
	}
	ctx, cancel := callCtx()
	defer cancel()
	snapshot, err := conn.client().GetSnapshot(ctx, *snapshotID)
	if err != nil {
		fail(err.Error())
		os.Exit(1)
	}
	printJSON(snapshot)
}

func runEvents(args []string) {
	fs, conn := newFlagSet("events")
	versionID := fs.String("id", "", "version id")
	if err := fs.Parse(args); err != nil {
		fail(err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*versionID) == "" {
		fail("--id is required")
		os.Exit(2)
	}
	ctx, cancel := callCtx()
	defer cancel()
	events, err := conn.client().ListEvents(ctx, *versionID)
	if err != nil {
		fail(err.Error())
		os.Exit(1)
	}
	printJSON(events)
}

func keyOrNew(key string) string {
	key = strings.TrimSpace(key)
	if key != "" {
		return key
	}
	return templane.NewIdempotencyKey()
}

func envDefault(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fail("encode response failed: " + err.Error())
		os.Exit(1)
	}
	fmt.Println(string(b))
}

func fail(reason string) {
	fmt.Printf("{\"status\":\"FAIL\",\"reason\":%s,\"timestamp_utc\":\"%s\"}\n",
		jsonQuote(reason),
		time.Now().UTC().Format(time.RFC3339),
	)
}

func jsonQuote(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}
