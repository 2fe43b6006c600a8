package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/larchdb/larch/larch"
	"github.com/larchdb/larch/larch/storage"
)

// config mirrors the connect options for use from a YAML file.
type config struct {
	Path     string `yaml:"path"`
	ReadOnly bool   `yaml:"read_only"`
	NoSync   bool   `yaml:"no_sync"`
	NoMMap   bool   `yaml:"no_mmap"`
	HashSize int    `yaml:"hash_size"`
}

func main() {
	var dbPath string
	var configPath string
	var readOnly bool
	var verbose bool

	flag.StringVar(&dbPath, "db", "", "database path or tdb:// URL")
	flag.StringVar(&configPath, "config", "", "YAML config file with connect options")
	flag.BoolVar(&readOnly, "ro", false, "open the database read-only")
	flag.BoolVar(&verbose, "verbose", false, "verbose engine logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command> [args]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "An inspector for larch directory databases.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nCommands:\n")
		fmt.Fprintf(os.Stderr, "  list                      list every entry DN\n")
		fmt.Fprintf(os.Stderr, "  get <dn>                  show one entry\n")
		fmt.Fprintf(os.Stderr, "  add <dn> <attr=val>...    add an entry\n")
		fmt.Fprintf(os.Stderr, "  delete <dn>               delete an entry\n")
		fmt.Fprintf(os.Stderr, "  rename <old-dn> <new-dn>  rename an entry\n")
		fmt.Fprintf(os.Stderr, "  indexes                   dump index buckets\n")
		fmt.Fprintf(os.Stderr, "  seq                       show the sequence number\n")
	}
	flag.Parse()

	cfg := config{Path: dbPath, ReadOnly: readOnly}
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			log.Fatalf("cannot read config: %v", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("cannot parse config: %v", err)
		}
		if dbPath != "" {
			cfg.Path = dbPath
		}
	}
	if cfg.Path == "" {
		flag.Usage()
		os.Exit(2)
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var opts []storage.Option
	if cfg.ReadOnly {
		opts = append(opts, storage.WithReadOnly())
	}
	if cfg.NoSync {
		opts = append(opts, storage.WithNoSync())
	}
	if cfg.NoMMap {
		opts = append(opts, storage.WithNoMMap())
	}
	if cfg.HashSize > 0 {
		opts = append(opts, storage.WithHashSize(cfg.HashSize))
	}
	if verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			log.Fatalf("cannot create logger: %v", err)
		}
		defer logger.Sync()
		opts = append(opts, storage.WithLogger(logger.Sugar()))
	}

	db, err := storage.Connect(cfg.Path, opts...)
	if err != nil {
		log.Fatalf("cannot open database: %v", err)
	}
	defer db.Close()

	if err := run(db, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

func run(db *storage.Backend, args []string) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "list":
		return listEntries(db)
	case "get":
		if len(rest) != 1 {
			return fmt.Errorf("get needs a DN")
		}
		return getEntry(db, rest[0])
	case "add":
		if len(rest) < 2 {
			return fmt.Errorf("add needs a DN and at least one attr=val")
		}
		return addEntry(db, rest[0], rest[1:])
	case "delete":
		if len(rest) != 1 {
			return fmt.Errorf("delete needs a DN")
		}
		return db.Delete(larch.NewDN(rest[0]))
	case "rename":
		if len(rest) != 2 {
			return fmt.Errorf("rename needs an old and a new DN")
		}
		return db.Rename(larch.NewDN(rest[0]), larch.NewDN(rest[1]))
	case "indexes":
		return listIndexes(db)
	case "seq":
		return showSequence(db)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func listEntries(db *storage.Backend) error {
	table := tablewriter.NewTable(os.Stdout)
	table.Header([]string{"DN", "Attributes"})
	count := 0
	err := db.WalkEntries(func(msg *larch.Message) error {
		if msg.DN.IsSpecial() {
			return nil
		}
		names := make([]string, len(msg.Elements))
		for i, el := range msg.Elements {
			names[i] = el.Name
		}
		table.Append([]string{msg.DN.String(), strings.Join(names, ", ")})
		count++
		return nil
	})
	if err != nil {
		return err
	}
	table.Render()
	fmt.Println(color.GreenString("%d entries", count))
	return nil
}

func getEntry(db *storage.Backend, dn string) error {
	msg, err := db.Fetch(larch.NewDN(dn))
	if err != nil {
		return err
	}
	fmt.Println(color.CyanString("dn: %s", msg.DN))
	table := tablewriter.NewTable(os.Stdout)
	table.Header([]string{"Attribute", "Value"})
	for _, el := range msg.Elements {
		for _, v := range el.Values {
			table.Append([]string{el.Name, string(v)})
		}
	}
	table.Render()
	return nil
}

func addEntry(db *storage.Backend, dn string, attrs []string) error {
	msg := larch.NewMessage(larch.NewDN(dn))
	for _, a := range attrs {
		name, value, ok := strings.Cut(a, "=")
		if !ok {
			return fmt.Errorf("bad attribute %q, want attr=val", a)
		}
		if el := msg.Element(name); el != nil {
			el.Values = append(el.Values, larch.Val(value))
			continue
		}
		msg.Elements = append(msg.Elements, larch.Element{
			Name:   name,
			Values: []larch.Val{larch.Val(value)},
		})
	}
	if err := db.Add(msg); err != nil {
		return err
	}
	fmt.Println(color.GreenString("added %s", dn))
	return nil
}

func listIndexes(db *storage.Backend) error {
	table := tablewriter.NewTable(os.Stdout)
	table.Header([]string{"Bucket", "Members"})
	err := db.WalkEntries(func(msg *larch.Message) error {
		if !msg.DN.CheckSpecial(larch.IndexDNPrefix) && !msg.DN.CheckSpecial(larch.OneLevelDNPre) {
			return nil
		}
		var members []string
		if el := msg.Element(larch.IdxAttr); el != nil {
			for _, v := range el.Values {
				members = append(members, string(v))
			}
		}
		table.Append([]string{msg.DN.String(), strings.Join(members, ", ")})
		return nil
	})
	if err != nil {
		return err
	}
	table.Render()
	return nil
}

func showSequence(db *storage.Backend) error {
	seq, err := db.SequenceNumber(storage.SeqHighest)
	if err != nil {
		return err
	}
	ts, err := db.SequenceNumber(storage.SeqHighestTimestamp)
	if err != nil {
		return err
	}
	fmt.Printf("sequence: %d\nlast change (unix): %d\n", seq, ts)
	return nil
}
