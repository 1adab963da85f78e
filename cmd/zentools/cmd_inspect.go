package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/odvcencio/zentools/pkg/asset"
	"github.com/odvcencio/zentools/pkg/packagemap"
	"github.com/odvcencio/zentools/pkg/zen"
	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	var (
		s         settings
		optional  bool
		transcode bool
	)

	cmd := &cobra.Command{
		Use:   "inspect <container-dir> <package-id|package-name>",
		Short: "Print the decoded tables of a package",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := s.load(cmd)
			if err != nil {
				return err
			}
			keys, err := loadKeys(cfg.EncryptionKeys, logger)
			if err != nil {
				return err
			}
			pmap, containers, err := openStore(args[0], keys, logger)
			if err != nil {
				return err
			}
			defer closeAll(containers)

			entry, err := findEntry(pmap, args[1], optional)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printPackage(out, entry)
			if !transcode {
				return nil
			}
			c := asset.NewContext(entry.Package, pmap, logger)
			if err := c.Process(); err != nil {
				return err
			}
			if err := c.WriteExports(io.Discard); err != nil {
				return err
			}
			var header asset.Buffer
			if err := c.WriteHeader(&header); err != nil {
				return err
			}
			return printLegacy(out, c)
		},
	}

	s.bind(cmd)
	cmd.Flags().BoolVar(&optional, "optional", false, "inspect the optional segment of the package")
	cmd.Flags().BoolVar(&transcode, "transcode", true, "also print the legacy tables the package transcodes to")
	return cmd
}

// findEntry accepts a numeric package id (decimal or 0x hex) or a package
// name.
func findEntry(pmap *packagemap.Map, arg string, optional bool) (*packagemap.Entry, error) {
	if id, err := strconv.ParseUint(arg, 0, 64); err == nil {
		if optional {
			return pmap.FindOptionalPackage(zen.PackageID(id))
		}
		return pmap.FindPackage(zen.PackageID(id))
	}
	e, err := pmap.FindPackageByName(arg)
	if err != nil || !optional {
		return e, err
	}
	return pmap.FindOptionalPackage(e.Package.ID)
}

func printPackage(w io.Writer, e *packagemap.Entry) {
	p := e.Package
	fmt.Fprintf(w, "package %s (%s)\n", p.Name, p.ID)
	fmt.Fprintf(w, "  container %s chunk %s file %s\n", e.ContainerID, e.ChunkID, e.Filename)
	fmt.Fprintf(w, "  flags 0x%08x\n", p.Flags)
	if v := p.Versioning; v != nil {
		fmt.Fprintf(w, "  versioning ue4=%d ue5=%d licensee=%d custom=%d\n", v.FileVersionUE4, v.FileVersionUE5, v.LicenseeVersion, len(v.CustomVersions))
	} else {
		fmt.Fprintln(w, "  unversioned")
	}

	fmt.Fprintf(w, "names (%d)\n", len(p.NameMap))
	for i, n := range p.NameMap {
		fmt.Fprintf(w, "  [%d] %s\n", i, n)
	}
	fmt.Fprintf(w, "imported packages (%d)\n", len(p.ImportedPackages))
	for i, id := range p.ImportedPackages {
		fmt.Fprintf(w, "  [%d] %s\n", i, id)
	}
	fmt.Fprintf(w, "imports (%d)\n", len(p.Imports))
	for i, ref := range p.Imports {
		fmt.Fprintf(w, "  [%d] %s\n", i, ref)
	}
	fmt.Fprintf(w, "exports (%d)\n", len(p.Exports))
	for i, exp := range p.Exports {
		fmt.Fprintf(w, "  [%d] %s outer=%s class=%s super=%s template=%s hash=0x%016x flags=0x%08x size=%d\n",
			i, exp.Name, exp.Outer, exp.Class, exp.Super, exp.Template, exp.PublicExportHash, exp.ObjectFlags, len(exp.Data))
	}
	fmt.Fprintf(w, "bundles (%d)\n", len(p.Bundles))
	for i, b := range p.Bundles {
		fmt.Fprintf(w, "  [%d]", i)
		for _, entry := range b {
			fmt.Fprintf(w, " %s:%d", entry.Command, entry.ExportIndex)
		}
		fmt.Fprintln(w)
	}
	for _, arc := range p.InternalArcs {
		fmt.Fprintf(w, "  arc bundle %d -> bundle %d\n", arc.FromBundle, arc.ToBundle)
	}
	for _, arc := range p.ExternalArcs {
		fmt.Fprintf(w, "  arc import %d (%s) -> bundle %d\n", arc.FromImport, arc.FromCommand, arc.ToBundle)
	}
}

func printLegacy(w io.Writer, c *asset.Context) error {
	s := c.Summary
	fmt.Fprintf(w, "legacy header %d bytes, %d names\n", s.TotalHeaderSize, c.Names.Len())
	fmt.Fprintf(w, "legacy imports (%d)\n", len(c.Imports))
	for i, imp := range c.Imports {
		path, err := c.ResolveObjectPath(asset.FromImport(i))
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  [%s] %s class=%s.%s outer=%s\n", asset.FromImport(i), path, imp.ClassPackage, imp.ClassName, imp.Outer)
	}
	fmt.Fprintf(w, "legacy exports (%d)\n", len(c.Exports))
	for i, exp := range c.Exports {
		path, err := c.ResolveObjectPath(asset.FromExport(i))
		if err != nil {
			return err
		}
		deps := c.Preload[i]
		fmt.Fprintf(w, "  [%s] %s class=%s offset=%d size=%d preload=%d/%d/%d/%d\n",
			asset.FromExport(i), path, exp.Class, exp.SerialOffset, exp.SerialSize,
			len(deps.SerializeBeforeSerialize), len(deps.CreateBeforeSerialize),
			len(deps.SerializeBeforeCreate), len(deps.CreateBeforeCreate))
	}
	return nil
}
