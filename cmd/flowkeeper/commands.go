package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/flowkeeper/pkg/flow"
	"github.com/orneryd/flowkeeper/pkg/recovery"
	"github.com/orneryd/flowkeeper/pkg/storage"
)

func (a *app) inspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Summarize the stored edge snapshots of a flow",
		Args:  cobra.NoArgs,
		RunE:  a.runInspect,
	}
	cmd.Flags().String("flow", "", "Flow id (default: engine.flow_id)")
	return cmd
}

func (a *app) runInspect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	flowID := a.flowID(cmd)
	w := cmd.OutOrStdout()
	banner(w, fmt.Sprintf("snapshots for flow %q (%s)", flowID, a.cfg.Persistence.Backend))

	var rows [][]string
	found := 0
	for _, key := range recovery.ReadKeys(flowID) {
		snap, err := storage.LoadSnapshot(ctx, store, key)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			rows = append(rows, []string{subtle.Sprint("-"), key, "missing", "", "", "", ""})
		case err != nil:
			rows = append(rows, []string{statusIcon(false), key, err.Error(), "", "", "", ""})
		default:
			found++
			saved := "-"
			if snap.Timestamp > 0 {
				saved = snap.Time().UTC().Format(time.RFC3339)
			}
			rows = append(rows, []string{
				statusIcon(true),
				key,
				"v" + strconv.Itoa(snap.Version),
				strconv.Itoa(len(snap.Edges)),
				strconv.Itoa(len(snap.Nodes)),
				saved,
				shortChecksum(snap.Checksum),
			})
		}
	}
	table(w, []string{"", "KEY", "STATUS", "EDGES", "NODES", "SAVED", "CHECKSUM"}, rows)
	if found == 0 {
		fmt.Fprintf(w, "\n%s no snapshot found\n", warnIcon())
	}
	return nil
}

func shortChecksum(sum string) string {
	if sum == "" {
		return "legacy"
	}
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}

func (a *app) recoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Run one forced recovery pass against a graph document",
		Long: `Loads a graph document into an engine, reconciles its edges with the
stored snapshot and prints what was restored. Use --out to write the
reconciled graph and --save to persist its edges afterwards.`,
		Args: cobra.NoArgs,
		RunE: a.runRecover,
	}
	cmd.Flags().String("flow", "", "Flow id (default: engine.flow_id)")
	cmd.Flags().String("graph", "", "Graph document (JSON with nodes and edges)")
	cmd.Flags().String("out", "", "Write the reconciled graph to this file")
	cmd.Flags().Bool("save", false, "Save the reconciled edges to the store")
	cmd.MarkFlagRequired("graph")
	return cmd
}

func (a *app) runRecover(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	graphPath, _ := cmd.Flags().GetString("graph")
	outPath, _ := cmd.Flags().GetString("out")
	save, _ := cmd.Flags().GetBool("save")

	doc, err := readDocumentFile(graphPath)
	if err != nil {
		return err
	}

	engine := flow.New(flow.Options{MaxHistory: a.cfg.Engine.HistoryLimit, Logger: &a.log})
	loaded := engine.LoadGraph(doc.Nodes, doc.Edges)

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	flowID := a.flowID(cmd)
	p := a.cfg.Persistence
	svc, err := recovery.New(engine, recovery.Options{
		Store:            store,
		FlowID:           flowID,
		Logger:           &a.log,
		SaveCooldown:     p.SaveCooldown,
		RecoveryCooldown: p.RecoveryCooldown,
		MountDelay:       p.MountDelay,
		Interval:         p.Interval,
		SaveDelay:        p.SaveDelay,
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	res := svc.RecoverNow(ctx)

	w := cmd.OutOrStdout()
	banner(w, fmt.Sprintf("recovery pass for flow %q", flowID))
	fmt.Fprintf(w, "  graph: %d nodes, %d edges (%d orphans dropped on load)\n\n",
		loaded.Nodes, loaded.Edges, loaded.DroppedEdges)

	if res.Skipped != "" {
		fmt.Fprintf(w, "  %s skipped: %s\n", warnIcon(), res.Skipped)
	} else {
		table(w, []string{"KEY", "FOUND", "VALID", "DROPPED", "RESTORED", "REPLACED", "HEALED"}, [][]string{{
			res.Key,
			strconv.Itoa(res.Found),
			strconv.Itoa(res.Valid),
			strconv.Itoa(res.Dropped),
			strconv.Itoa(res.Restore.Added),
			statusIcon(res.Restore.Replaced),
			statusIcon(res.Rewritten),
		}})
	}

	if save {
		fmt.Fprintf(w, "\n  %s save\n", statusIcon(svc.Save(ctx)))
	}

	stats := engine.Stats()
	fmt.Fprintf(w, "\n  live graph: %d nodes, %d edges\n", stats.Nodes, stats.Edges)

	if outPath != "" {
		if err := writeDocumentFile(outPath, engine.Document()); err != nil {
			return err
		}
		fmt.Fprintf(w, "  wrote %s\n", outPath)
	}
	return nil
}

func (a *app) normalizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "normalize <file.json>",
		Short: "Normalize handles and drop orphan edges in a graph document",
		Args:  cobra.ExactArgs(1),
		RunE:  a.runNormalize,
	}
	cmd.Flags().String("out", "", "Output file (default: stdout)")
	return cmd
}

func (a *app) runNormalize(cmd *cobra.Command, args []string) error {
	outPath, _ := cmd.Flags().GetString("out")

	doc, err := readDocumentFile(args[0])
	if err != nil {
		return err
	}
	engine := flow.New(flow.Options{Logger: &a.log})
	res := engine.LoadGraph(doc.Nodes, doc.Edges)
	normalized := engine.Document()

	fmt.Fprintf(cmd.ErrOrStderr(), "%s %d nodes, %d edges kept, %d dropped\n",
		statusIcon(true), res.Nodes, res.Edges, res.DroppedEdges)

	if outPath == "" {
		return flow.WriteDocument(cmd.OutOrStdout(), normalized)
	}
	return writeDocumentFile(outPath, normalized)
}

func (a *app) backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a full backup of the badger snapshot store",
		Args:  cobra.NoArgs,
		RunE:  a.runBackup,
	}
	cmd.Flags().String("out", "", "Backup file path")
	cmd.MarkFlagRequired("out")
	return cmd
}

func (a *app) runBackup(cmd *cobra.Command, args []string) error {
	outPath, _ := cmd.Flags().GetString("out")
	if a.cfg.Persistence.Backend != storage.BackendBadger {
		return fmt.Errorf("backup requires the badger backend, configured: %s", a.cfg.Persistence.Backend)
	}

	store, err := a.openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	badgerStore, ok := store.(*storage.BadgerStore)
	if !ok {
		return fmt.Errorf("backup: unexpected store type %T", store)
	}
	if err := badgerStore.Backup(outPath); err != nil {
		return err
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s backup written to %s (%d bytes)\n", statusIcon(true), outPath, info.Size())
	return nil
}

func readDocumentFile(path string) (*flow.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph document: %w", err)
	}
	defer f.Close()
	return flow.ReadDocument(f)
}

func writeDocumentFile(path string, doc *flow.Document) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := flow.WriteDocument(f, doc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
