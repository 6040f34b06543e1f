package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/v2/bson"
	"gopkg.in/yaml.v3"

	"github.com/andreyvit/ejdb"
	"github.com/andreyvit/ejdb/query"
)

func (a *app) collectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "collections",
		Aliases: []string{"ls"},
		Short:   "List collections with their record counts",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDB(false, func(db *ejdb.DB) error {
				md, err := db.Describe()
				if err != nil {
					return err
				}
				for _, cm := range md.Collections {
					fmt.Fprintf(a.out, "%s\t%d\n", cm.Name, cm.Records)
				}
				return nil
			})
		},
	}
}

func (a *app) metaCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "meta",
		Short: "Print database metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDB(false, func(db *ejdb.DB) error {
				md, err := db.Describe()
				if err != nil {
					return err
				}
				switch format {
				case "yaml":
					enc := yaml.NewEncoder(a.out)
					enc.SetIndent(2)
					if err := enc.Encode(md); err != nil {
						return err
					}
					return enc.Close()
				case "json":
					raw, err := db.Metadata()
					if err != nil {
						return err
					}
					return a.printDoc(raw)
				default:
					return fmt.Errorf("unknown format %q, wanted yaml or json", format)
				}
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "output format (yaml|json)")
	return cmd
}

func (a *app) findCmd() *cobra.Command {
	var hints string
	var count, first bool
	cmd := &cobra.Command{
		Use:   "find <collection> [query]",
		Short: "Run a query and print matching documents as JSON lines",
		Long: `find runs a query (relaxed extended JSON, default {}) and prints each
matching document on its own line. Update operators in the query modify the
matched documents.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pred := "{}"
			if len(args) > 1 {
				pred = args[1]
			}
			write := strings.Contains(pred, `"$`)
			return a.withDB(write, func(db *ejdb.DB) error {
				c, err := a.collection(db, args[0])
				if err != nil {
					return err
				}
				q, err := a.query(db, pred, hints)
				if err != nil {
					return err
				}
				var mode ejdb.SearchMode
				if count {
					mode |= ejdb.SearchCountOnly
				}
				if first {
					mode |= ejdb.SearchFirstOnly
				}
				res, err := c.Execute(q, mode)
				if err != nil {
					return err
				}
				if count {
					fmt.Fprintln(a.out, res.Count)
					return nil
				}
				for _, doc := range res.Docs {
					if err := a.printDoc(doc); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&hints, "hints", "", `query hints, e.g. {"$orderby": {"name": 1}, "$max": 10}`)
	cmd.Flags().BoolVar(&count, "count", false, "print only the number of matches")
	cmd.Flags().BoolVar(&first, "first", false, "stop after the first match")
	return cmd
}

func (a *app) query(db *ejdb.DB, pred, hints string) (*ejdb.Query, error) {
	raw, err := query.FromJSON(pred)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	q, err := db.CreateQuery(raw)
	if err != nil {
		return nil, err
	}
	if hints != "" {
		raw, err := query.FromJSON(hints)
		if err != nil {
			return nil, fmt.Errorf("hints: %w", err)
		}
		if err := q.SetHints(raw); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// collection returns an existing collection; unlike CreateCollection it
// never creates one.
func (a *app) collection(db *ejdb.DB, name string) (*ejdb.Collection, error) {
	c, err := db.GetCollection(name)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("no collection %q", name)
	}
	return c, nil
}

func (a *app) printDoc(raw []byte) error {
	s, err := query.ToJSON(raw)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, s)
	return err
}

func (a *app) saveCmd() *cobra.Command {
	var merge bool
	cmd := &cobra.Command{
		Use:   "save <collection> [json...]",
		Short: "Save documents, printing their _id values",
		Long: `save stores each JSON document argument, or each line of stdin when no
documents are given. The collection is created when missing. With --merge,
fields of documents whose _id already exists are merged into the stored
copy.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs := args[1:]
			if len(docs) == 0 {
				var err error
				if docs, err = readLines(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			return a.withDB(true, func(db *ejdb.DB) error {
				c, err := db.CreateCollection(args[0])
				if err != nil {
					return err
				}
				return c.WithTransaction(func() error {
					for _, s := range docs {
						raw, err := query.FromJSON(s)
						if err != nil {
							return err
						}
						oid, err := c.SaveDocumentMerge(raw, merge)
						if err != nil {
							return err
						}
						fmt.Fprintln(a.out, oid.Hex())
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().BoolVar(&merge, "merge", false, "merge into existing documents with the same _id")
	return cmd
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(nil, ejdb.DefaultMaxDocumentSize*4)
	for sc.Scan() {
		if s := strings.TrimSpace(sc.Text()); s != "" {
			lines = append(lines, s)
		}
	}
	return lines, sc.Err()
}

var indexTypeFlags = map[string]ejdb.IndexMode{
	"string":  ejdb.IndexString,
	"istring": ejdb.IndexIString,
	"number":  ejdb.IndexNumber,
	"array":   ejdb.IndexArray,
}

func (a *app) indexCmd() *cobra.Command {
	var types []string
	var drop, dropAll, rebuild, optimize bool
	cmd := &cobra.Command{
		Use:   "index <collection> <field>",
		Short: "Create, drop, rebuild or optimize an index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var mode ejdb.IndexMode
			for _, t := range types {
				m, ok := indexTypeFlags[t]
				if !ok {
					return fmt.Errorf("unknown index type %q, wanted string, istring, number or array", t)
				}
				mode |= m
			}
			for _, f := range []struct {
				on bool
				m  ejdb.IndexMode
			}{{drop, ejdb.IndexDrop}, {dropAll, ejdb.IndexDropAll}, {rebuild, ejdb.IndexRebuild}, {optimize, ejdb.IndexOptimize}} {
				if f.on {
					mode |= f.m
				}
			}
			return a.withDB(true, func(db *ejdb.DB) error {
				c, err := a.collection(db, args[0])
				if err != nil {
					return err
				}
				return c.SetIndex(args[1], mode)
			})
		},
	}
	flags := cmd.Flags()
	flags.StringSliceVarP(&types, "type", "t", nil, "index types (string, istring, number, array)")
	flags.BoolVar(&drop, "drop", false, "drop the given index types")
	flags.BoolVar(&dropAll, "drop-all", false, "drop every index on the field")
	flags.BoolVar(&rebuild, "rebuild", false, "rebuild the field's indexes")
	flags.BoolVar(&optimize, "optimize", false, "compact the field's indexes")
	return cmd
}

func (a *app) exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <dir> [collection...]",
		Short: "Export collections as JSON lines plus index metadata",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDB(false, func(db *ejdb.DB) error {
				return db.Export(args[0], args[1:])
			})
		},
	}
}

func (a *app) importCmd() *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "import <dir> [collection...]",
		Short: "Import collections written by export",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := ejdb.ImportUpdate
			if replace {
				mode = ejdb.ImportReplace
			}
			return a.withDB(true, func(db *ejdb.DB) error {
				return db.Import(args[0], args[1:], mode)
			})
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "drop each collection before importing it")
	return cmd
}

func (a *app) rmCmd() *cobra.Command {
	var keepFile bool
	cmd := &cobra.Command{
		Use:   "rm <collection> [id...]",
		Short: "Remove documents by _id, or the whole collection when no ids are given",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDB(true, func(db *ejdb.DB) error {
				if len(args) == 1 {
					return db.RemoveCollection(args[0], !keepFile)
				}
				c, err := a.collection(db, args[0])
				if err != nil {
					return err
				}
				return c.WithTransaction(func() error {
					for _, s := range args[1:] {
						oid, err := bson.ObjectIDFromHex(s)
						if err != nil {
							return fmt.Errorf("%s: %w", s, err)
						}
						if err := c.RemoveDocument(oid); err != nil {
							return err
						}
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().BoolVar(&keepFile, "keep-file", false, "keep the collection's data file")
	return cmd
}
