package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/andreyvit/ejdb"
)

const envPrefix = "EJDB"

// app holds the state shared by all subcommands.
type app struct {
	v      *viper.Viper
	out    io.Writer
	errOut io.Writer
	log    *zap.Logger
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{v: viper.New(), out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "ejdbctl",
		Short: "Inspect and edit ejdb document databases",
		Long: `ejdbctl opens an ejdb database and runs one operation on it.

Settings come from flags, then EJDB_* environment variables, then the YAML
file given by --config or EJDB_CONFIG (default ./ejdb.yaml when present):

  db: ./data/app.db
  verbose: false
  lock_timeout: 10s
  max_document_size: 16777216`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.configure()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringP("db", "d", "", "database file path")
	flags.StringP("config", "c", "", "YAML config file")
	flags.BoolP("verbose", "v", false, "log every operation")
	flags.Duration("lock-timeout", ejdb.DefaultLockTimeout, "how long to wait for the database lock")
	flags.Int("max-document-size", ejdb.DefaultMaxDocumentSize, "largest document accepted by save")
	for _, name := range []string{"db", "config", "verbose", "lock-timeout", "max-document-size"} {
		_ = a.v.BindPFlag(strings.ReplaceAll(name, "-", "_"), flags.Lookup(name))
	}
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(
		a.collectionsCmd(),
		a.metaCmd(),
		a.findCmd(),
		a.saveCmd(),
		a.indexCmd(),
		a.exportCmd(),
		a.importCmd(),
		a.rmCmd(),
	)
	return root
}

// configure reads the config file and sets up logging.
func (a *app) configure() error {
	if file := a.v.GetString("config"); file != "" {
		a.v.SetConfigFile(file)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("config %s: %w", file, err)
		}
	} else {
		a.v.SetConfigName("ejdb")
		a.v.SetConfigType("yaml")
		a.v.AddConfigPath(".")
		if err := a.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("config: %w", err)
			}
		}
	}

	level := zapcore.WarnLevel
	if a.v.GetBool("verbose") {
		level = zapcore.DebugLevel
	}
	enc := zap.NewDevelopmentEncoderConfig()
	enc.TimeKey = ""
	a.log = zap.New(zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(a.errOut), level))
	return nil
}

func (a *app) options() ejdb.Options {
	return ejdb.Options{
		Logger:          a.log,
		Verbose:         a.v.GetBool("verbose"),
		LockTimeout:     a.v.GetDuration("lock_timeout"),
		MaxDocumentSize: a.v.GetInt("max_document_size"),
	}
}

// open opens the configured database. Read-only commands do not create it.
func (a *app) open(write bool) (*ejdb.DB, error) {
	path := a.v.GetString("db")
	if path == "" {
		return nil, errors.New("no database: pass --db or set EJDB_DB")
	}
	mode := ejdb.ModeRead
	if write {
		mode = ejdb.ModeDefault
	}
	if _, err := os.Stat(path); err != nil && !write {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	start := time.Now()
	db, err := ejdb.Open(path, mode, a.options())
	if err != nil {
		return nil, err
	}
	a.log.Debug("opened", zap.String("path", path), zap.Stringer("mode", mode), zap.Duration("took", time.Since(start)))
	return db, nil
}

// withDB opens the database, runs fn and closes it, keeping the first error.
func (a *app) withDB(write bool, fn func(db *ejdb.DB) error) (err error) {
	db, err := a.open(write)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(db)
}
