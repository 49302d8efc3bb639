// Command xmlstore inspects, validates, converts and exports
// schema-governed XML value documents.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/BoldingBruggeman/xmlstore/internal/schema"
	"github.com/BoldingBruggeman/xmlstore/internal/store"
	"github.com/BoldingBruggeman/xmlstore/internal/watcher"
	"github.com/BoldingBruggeman/xmlstore/internal/xmldom"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

func run(args []string) int {
	fs := flag.NewFlagSet("xmlstore", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var catalogDirs multiFlag
	schemaPath := fs.String("schema", "", "schema file governing the document")
	manifestPath := fs.String("manifest", "", "xmlstore.toml with aliases and schema roots")
	showVersion := fs.Bool("version", false, "print version information")
	fs.Var(&catalogDirs, "catalog", "schema-info directory to index (may repeat)")
	fs.Usage = func() { usage(fs) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Printf("xmlstore %s (%s, built %s)\n", version, commit, date)
		return 0
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return 2
	}

	env, err := newEnv(*schemaPath, *manifestPath, catalogDirs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "xmlstore: %v\n", err)
		return 1
	}

	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "validate":
		return env.cmdValidate(cmdArgs)
	case "convert":
		return env.cmdConvert(cmdArgs)
	case "export":
		return env.cmdExport(cmdArgs)
	case "query":
		return env.cmdQuery(cmdArgs)
	case "watch":
		return env.cmdWatch(cmdArgs)
	default:
		fmt.Fprintf(os.Stderr, "xmlstore: unknown command %q\n\n", cmd)
		fs.Usage()
		return 2
	}
}

func usage(fs *flag.FlagSet) {
	fmt.Fprint(os.Stderr, `xmlstore manages schema-governed XML value documents.

usage: xmlstore [flags] <command> [command flags] <args>

commands:
  validate   check a document against its schema and rules
  convert    bring a document to another schema version
  export     render a document as xml, json or yaml
  query      read one value with a dot path
  watch      revalidate a document whenever it changes

flags:
`)
	fs.PrintDefaults()
}

type env struct {
	schemaPath string
	catalog    *store.Catalog
}

func newEnv(schemaPath, manifestPath string, catalogDirs []string) (*env, error) {
	dirs := append([]string(nil), catalogDirs...)
	if manifestPath != "" {
		m, err := schema.LoadManifest(manifestPath)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, m.SchemaRoots...)
	}
	e := &env{schemaPath: schemaPath}
	if len(dirs) > 0 {
		cat, err := store.NewCatalog(dirs...)
		if err != nil {
			return nil, err
		}
		e.catalog = cat
	}
	return e, nil
}

// openStore loads the document at path: a plain XML file, a package
// directory, or a zip package. The schema comes from -schema, or from
// the catalog keyed by the document's version attribute.
func (e *env) openStore(path string) (*store.Store, error) {
	packaged := strings.HasSuffix(path, ".zip")
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		packaged = true
	}

	var sch *schema.Schema
	var err error
	switch {
	case e.schemaPath != "":
		sch, err = schema.Load(e.schemaPath)
	case e.catalog == nil:
		return nil, fmt.Errorf("no schema: pass -schema, -catalog or -manifest")
	case packaged:
		return nil, fmt.Errorf("packages need an explicit -schema")
	default:
		_, attrs, rerr := xmldom.RootInfo(path)
		if rerr != nil {
			return nil, rerr
		}
		v := attrs["version"]
		if v == "" {
			return nil, fmt.Errorf("%s carries no version attribute; pass -schema", path)
		}
		sch, err = e.catalog.SchemaForVersion(v)
	}
	if err != nil {
		return nil, err
	}

	var opts []store.Option
	if e.catalog != nil {
		opts = append(opts, store.WithCatalog(e.catalog))
	}
	s, err := store.New(sch, opts...)
	if err != nil {
		return nil, err
	}
	if packaged {
		err = s.LoadAll(path, nil)
	} else {
		err = s.Load(path, nil)
	}
	if err != nil {
		s.Release()
		return nil, err
	}
	return s, nil
}

func (e *env) cmdValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	repair := fs.Int("repair", 0, "repair policy: 0 report, 1 fix hidden, 2 fix all")
	useDefault := fs.Bool("use-default", true, "judge unset nodes by their default")
	write := fs.Bool("write", false, "write the repaired document back in place")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: xmlstore validate [-repair N] [-write] <values>")
		return 2
	}
	path := fs.Arg(0)

	s, err := e.openStore(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "xmlstore: %v\n", err)
		return 1
	}
	defer s.Release()

	issues := s.Validate(nil, *useDefault, *repair, nil)
	for _, issue := range issues {
		fmt.Println(issue)
	}
	if *write && s.HasChanged() {
		if err := s.Save(path); err != nil {
			fmt.Fprintf(os.Stderr, "xmlstore: %v\n", err)
			return 1
		}
		fmt.Fprintf(os.Stderr, "wrote repaired document to %s\n", path)
	}
	if len(issues) > 0 {
		return 1
	}
	fmt.Println("no problems found")
	return 0
}

func (e *env) cmdConvert(args []string) int {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	target := fs.String("target", "", "schema version to convert to")
	out := fs.String("out", "", "output file (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 || *target == "" {
		fmt.Fprintln(os.Stderr, "usage: xmlstore convert -target VERSION [-out FILE] <values>")
		return 2
	}

	s, err := e.openStore(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "xmlstore: %v\n", err)
		return 1
	}
	defer s.Release()

	converted, err := s.ConvertTo(*target, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "xmlstore: %v\n", err)
		return 1
	}
	defer converted.Release()

	if *out == "" {
		fmt.Print(converted.ExportXML())
		return 0
	}
	if err := converted.Save(*out); err != nil {
		fmt.Fprintf(os.Stderr, "xmlstore: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "wrote %s at version %s\n", *out, converted.Version())
	return 0
}

func (e *env) cmdExport(args []string) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	format := fs.String("format", "xml", "output format: xml, json or yaml")
	useDefault := fs.Bool("use-default", true, "fill unset nodes from their default")
	out := fs.String("out", "", "output file (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: xmlstore export [-format xml|json|yaml] <values>")
		return 2
	}

	s, err := e.openStore(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "xmlstore: %v\n", err)
		return 1
	}
	defer s.Release()

	var data []byte
	switch *format {
	case "xml":
		data = []byte(s.ExportXML())
	case "json":
		data, err = s.ExportJSON(*useDefault)
	case "yaml":
		data, err = s.ExportYAML(*useDefault)
	default:
		fmt.Fprintf(os.Stderr, "xmlstore: unknown format %q\n", *format)
		return 2
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "xmlstore: %v\n", err)
		return 1
	}

	if *out == "" {
		os.Stdout.Write(data)
		return 0
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "xmlstore: %v\n", err)
		return 1
	}
	return 0
}

func (e *env) cmdQuery(args []string) int {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	useDefault := fs.Bool("use-default", true, "fill unset nodes from their default")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: xmlstore query <dot.path> <values>")
		return 2
	}

	s, err := e.openStore(fs.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "xmlstore: %v\n", err)
		return 1
	}
	defer s.Release()

	res, err := s.Query(fs.Arg(0), *useDefault)
	if err != nil {
		fmt.Fprintf(os.Stderr, "xmlstore: %v\n", err)
		return 1
	}
	if !res.Exists() {
		fmt.Fprintf(os.Stderr, "xmlstore: nothing at %q\n", fs.Arg(0))
		return 1
	}
	fmt.Println(res.String())
	return 0
}

func (e *env) cmdWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	repair := fs.Int("repair", 0, "repair policy: 0 report, 1 fix hidden, 2 fix all")
	useDefault := fs.Bool("use-default", true, "judge unset nodes by their default")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: xmlstore watch <values>")
		return 2
	}
	path := fs.Arg(0)

	w, err := watcher.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "xmlstore: %v\n", err)
		return 1
	}
	defer w.Close()
	if err := w.Add(path); err != nil {
		fmt.Fprintf(os.Stderr, "xmlstore: %v\n", err)
		return 1
	}

	e.revalidate(path, *useDefault, *repair)
	fmt.Fprintf(os.Stderr, "watching %s\n", path)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	for {
		select {
		case <-sig:
			return 0
		case ev := <-w.Events():
			fmt.Fprintf(os.Stderr, "%s %s %s\n", ev.Time.Format("15:04:05"), ev.Op, ev.Path)
			if ev.Op.Has(watcher.Remove) {
				continue
			}
			e.revalidate(path, *useDefault, *repair)
		case werr := <-w.Errors():
			fmt.Fprintf(os.Stderr, "xmlstore: %v\n", werr)
		}
	}
}

func (e *env) revalidate(path string, useDefault bool, repair int) {
	s, err := e.openStore(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "xmlstore: %v\n", err)
		return
	}
	defer s.Release()
	issues := s.Validate(nil, useDefault, repair, nil)
	for _, issue := range issues {
		fmt.Println(issue)
	}
	if len(issues) == 0 {
		fmt.Println("no problems found")
	}
}
