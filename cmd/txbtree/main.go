// Command txbtree is a small CLI over the B-Tree engine, in the same
// spirit as NornicDB's own command-line tools: every subcommand loads
// configuration from the environment, opens one Block File, runs one
// transaction, and returns any error (a txerr kind from the engine, or a
// plain error from configuration or storage) for main to log.
//
// Example Usage:
//
//	txbtree create --schema users.yaml
//	txbtree insert --schema users.yaml 1 alice
//	txbtree range --schema users.yaml
//	txbtree delete-range --schema users.yaml --start 1 --end 3
//
// ELI12:
//
// This is a command-line toy box for the B-Tree. Each time you run it,
// it opens the tree's files, does exactly the one thing you asked for,
// saves its work, and closes everything back up.
package main

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"github.com/spf13/cobra"

	"github.com/txbtree/txbtree/pkg/blockfile"
	"github.com/txbtree/txbtree/pkg/btree"
	"github.com/txbtree/txbtree/pkg/config"
	"github.com/txbtree/txbtree/pkg/metrics"
	"github.com/txbtree/txbtree/pkg/txnlock"
)

var schemaPath string

func main() {
	root := &cobra.Command{
		Use:   "txbtree",
		Short: "Inspect and mutate a transactional B-Tree index",
	}
	root.PersistentFlags().StringVar(&schemaPath, "schema", "schema.yaml", "path to the tree's schema file")

	root.AddCommand(createCmd(), insertCmd(), keysCmd(), rangeCmd(), deleteRangeCmd(), statsCmd())

	if err := root.Execute(); err != nil {
		log.Fatalf("txbtree: %v", err)
	}
}

// nextTxnID derives a transaction id from wall-clock time. The CLI runs
// one transaction per process, so this only needs to be monotonic across
// separate invocations, not globally unique.
func nextTxnID() txnlock.TxnID {
	return txnlock.TxnID(time.Now().UnixNano())
}

// openEngine opens the Block File and attaches a BTree to it: Create if
// the file is empty at τ, Load (scanning for the parentless root node)
// otherwise, per §6's "there is no separate root-pointer record on disk."
func openEngine(ctx context.Context, schema btree.RowSchema, txn txnlock.TxnID) (*blockfile.BlockFile[*btree.Node], *btree.BTree, error) {
	cfg := config.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if cfg.GCPercent != 0 {
		debug.SetGCPercent(cfg.GCPercent)
	}
	reg := metrics.Noop()
	bf, err := blockfile.Open[*btree.Node](ctx, blockfile.Options[*btree.Node]{
		Dir:            cfg.DataDir,
		InMemory:       cfg.InMemory,
		Decode:         btree.DecodeNode,
		MaxCachedLocks: cfg.BlockCacheSize,
		Metrics:        reg,
	})
	if err != nil {
		return nil, nil, err
	}

	empty, err := bf.IsEmpty(ctx, txn)
	if err != nil {
		_ = bf.Close()
		return nil, nil, err
	}
	var tree *btree.BTree
	if empty {
		tree, err = btree.Create(ctx, bf, schema, txn, btree.WithMetrics(reg))
	} else {
		tree, err = btree.Load(ctx, bf, schema, txn, btree.WithMetrics(reg))
	}
	if err != nil {
		_ = bf.Close()
		return nil, nil, err
	}
	return bf, tree, nil
}

func closeAndCommit(bf *blockfile.BlockFile[*btree.Node], tree *btree.BTree, ctx context.Context, txn txnlock.TxnID) error {
	if err := tree.Commit(ctx, txn); err != nil {
		_ = bf.Close()
		return err
	}
	return bf.Close()
}

func createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Validate a schema file and initialize an empty tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := loadSchemaFile(schemaPath)
			if err != nil {
				return err
			}
			order, err := btree.ValidateSchema(schema)
			if err != nil {
				return err
			}
			ctx := context.Background()
			txn := nextTxnID()
			bf, tree, err := openEngine(ctx, schema, txn)
			if err != nil {
				return err
			}
			if err := closeAndCommit(bf, tree, ctx, txn); err != nil {
				return err
			}
			fmt.Printf("created tree with order %d\n", order)
			return nil
		},
	}
}

func insertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "insert [components...]",
		Short: "Insert one key, reviving it if it was previously deleted",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := loadSchemaFile(schemaPath)
			if err != nil {
				return err
			}
			key, err := parseKey(schema, args)
			if err != nil {
				return err
			}
			ctx := context.Background()
			txn := nextTxnID()
			bf, tree, err := openEngine(ctx, schema, txn)
			if err != nil {
				return err
			}
			if err := tree.Insert(ctx, txn, key); err != nil {
				_ = bf.Close()
				return err
			}
			return closeAndCommit(bf, tree, ctx, txn)
		},
	}
}

func keysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List every live key in ascending order",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := loadSchemaFile(schemaPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			txn := nextTxnID()
			bf, tree, err := openEngine(ctx, schema, txn)
			if err != nil {
				return err
			}
			defer bf.Close()
			keys, err := tree.Keys(ctx, txn)
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Println(formatKey(k))
			}
			return nil
		},
	}
}

func rangeCmd() *cobra.Command {
	var prefix, start, end []string
	var reverse bool
	cmd := &cobra.Command{
		Use:   "range",
		Short: "List keys within a range",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := loadSchemaFile(schemaPath)
			if err != nil {
				return err
			}
			rng, err := parseRange(schema, prefix, start, end)
			if err != nil {
				return err
			}
			ctx := context.Background()
			txn := nextTxnID()
			bf, tree, err := openEngine(ctx, schema, txn)
			if err != nil {
				return err
			}
			defer bf.Close()
			var cur *btree.Cursor
			if reverse {
				cur, err = tree.RowsInRangeReverse(ctx, txn, rng)
			} else {
				cur, err = tree.RowsInRange(ctx, txn, rng)
			}
			if err != nil {
				return err
			}
			for {
				k, ok, err := cur.Next(ctx)
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				fmt.Println(formatKey(k))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&prefix, "prefix", nil, "exact-match leading key components")
	cmd.Flags().StringSliceVar(&start, "start", nil, "inclusive lower bound on the column after the prefix")
	cmd.Flags().StringSliceVar(&end, "end", nil, "exclusive upper bound on the column after the prefix")
	cmd.Flags().BoolVar(&reverse, "reverse", false, "stream in descending order")
	return cmd
}

func deleteRangeCmd() *cobra.Command {
	var prefix, start, end []string
	cmd := &cobra.Command{
		Use:   "delete-range",
		Short: "Tombstone every key within a range",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := loadSchemaFile(schemaPath)
			if err != nil {
				return err
			}
			rng, err := parseRange(schema, prefix, start, end)
			if err != nil {
				return err
			}
			ctx := context.Background()
			txn := nextTxnID()
			bf, tree, err := openEngine(ctx, schema, txn)
			if err != nil {
				return err
			}
			if err := tree.DeleteRange(ctx, txn, rng); err != nil {
				_ = bf.Close()
				return err
			}
			return closeAndCommit(bf, tree, ctx, txn)
		},
	}
	cmd.Flags().StringSliceVar(&prefix, "prefix", nil, "exact-match leading key components")
	cmd.Flags().StringSliceVar(&start, "start", nil, "inclusive lower bound on the column after the prefix")
	cmd.Flags().StringSliceVar(&end, "end", nil, "exclusive upper bound on the column after the prefix")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the tree's derived order and root block id",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := loadSchemaFile(schemaPath)
			if err != nil {
				return err
			}
			order, err := btree.ValidateSchema(schema)
			if err != nil {
				return err
			}
			ctx := context.Background()
			txn := nextTxnID()
			bf, tree, err := openEngine(ctx, schema, txn)
			if err != nil {
				return err
			}
			defer bf.Close()
			empty, err := tree.IsEmpty(ctx, txn)
			if err != nil {
				return err
			}
			rootID, _, err := tree.RootBlockID(ctx, txn)
			if err != nil {
				return err
			}
			fmt.Printf("order: %d\nempty: %v\nroot: %s\n", order, empty, rootID)
			return nil
		},
	}
}
