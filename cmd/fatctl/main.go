package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aligator/fatfs"
	"github.com/aligator/fatfs/blockdev"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
)

// host is the filesystem the images and the copied files live on.
var host = afero.NewOsFs()

func main() {
	app := &cli.App{
		Name:  "fatctl",
		Usage: "inspect and edit FAT16/FAT32 disk images",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "image",
				Aliases:  []string{"i"},
				Usage:    "path of the disk image",
				EnvVars:  []string{"FATCTL_IMAGE"},
				Required: true,
			},
			&cli.BoolFlag{
				Name:    "readonly",
				Usage:   "mount the image read-only",
				EnvVars: []string{"FATCTL_READONLY"},
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "log debug messages",
				EnvVars: []string{"FATCTL_DEBUG"},
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("debug") {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "info",
				Usage:  "print the volume geometry and usage",
				Action: mounted(info),
			},
			{
				Name:      "ls",
				Usage:     "list a directory",
				ArgsUsage: "[path]",
				Action:    mounted(list),
			},
			{
				Name:      "tree",
				Usage:     "list everything below a directory",
				ArgsUsage: "[path]",
				Action:    mounted(tree),
			},
			{
				Name:      "cat",
				Usage:     "print a file",
				ArgsUsage: "path",
				Action:    mounted(cat),
			},
			{
				Name:      "get",
				Usage:     "copy a file out of the image",
				ArgsUsage: "path destination",
				Action:    mounted(get),
			},
			{
				Name:      "put",
				Usage:     "copy a file into the image",
				ArgsUsage: "source path",
				Action:    mounted(put),
			},
			{
				Name:      "mkdir",
				Usage:     "create directories including their parents",
				ArgsUsage: "path",
				Action:    mounted(mkdir),
			},
			{
				Name:      "rm",
				Usage:     "remove a file or an empty directory",
				ArgsUsage: "path",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "recursive", Aliases: []string{"r"}, Usage: "remove directories with their content"},
				},
				Action: mounted(remove),
			},
			{
				Name:      "mv",
				Usage:     "rename or move a file or directory",
				ArgsUsage: "old new",
				Action:    mounted(move),
			},
			{
				Name:  "mkfs",
				Usage: "create a new image containing an empty volume",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "size", Usage: "image size in MiB", Value: 64},
					&cli.IntFlag{Name: "type", Usage: "16 or 32, 0 selects by size"},
					&cli.StringFlag{Name: "label", Usage: "volume label"},
					&cli.UintFlag{Name: "cluster", Usage: "sectors per cluster, 0 selects by size"},
				},
				Action: mkfs,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

// mounted opens the image before action runs and closes it afterwards.
func mounted(action func(c *cli.Context, fs *fatfs.Fs) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		readOnly := c.Bool("readonly")
		dev, err := blockdev.OpenImage(host, c.String("image"), readOnly)
		if err != nil {
			return err
		}

		fs, err := fatfs.NewWithConfig(dev, fatfs.Config{
			ReadOnly: readOnly,
			Logger:   logrus.WithField("image", c.String("image")),
		})
		if err != nil {
			_ = dev.Close()
			return err
		}

		err = action(c, fs)
		if closeErr := fs.Close(); err == nil {
			err = closeErr
		}
		return err
	}
}

func info(c *cli.Context, fs *fatfs.Fs) error {
	label, err := fs.Label()
	if err != nil {
		return err
	}
	stats, err := fs.Stats()
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "label:    %s\n", label)
	fmt.Fprintf(c.App.Writer, "type:     %v\n", stats.Type)
	fmt.Fprintf(c.App.Writer, "cluster:  %d bytes\n", stats.ClusterSize)
	fmt.Fprintf(c.App.Writer, "clusters: %d total, %d free\n", stats.TotalClusters, stats.FreeClusters)
	fmt.Fprintf(c.App.Writer, "free:     %d bytes\n", uint64(stats.FreeClusters)*uint64(stats.ClusterSize))
	return nil
}

func list(c *cli.Context, fs *fatfs.Fs) error {
	path := c.Args().First()
	if path == "" {
		path = "/"
	}

	infos, err := afero.ReadDir(fs, path)
	if err != nil {
		return err
	}
	for _, info := range infos {
		fmt.Fprintln(c.App.Writer, describe(info))
	}
	return nil
}

func tree(c *cli.Context, fs *fatfs.Fs) error {
	root := c.Args().First()
	if root == "" {
		root = "/"
	}

	return afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		depth := strings.Count(strings.Trim(path, "/"), "/")
		if path != root {
			depth++
		}
		fmt.Fprintf(c.App.Writer, "%s%s\n", strings.Repeat("  ", depth), describe(info))
		return nil
	})
}

// describe formats one line of a listing.
func describe(info os.FileInfo) string {
	line := fmt.Sprintf("%s %10d %s %s", info.Mode(), info.Size(), info.ModTime().Format("2006-01-02 15:04:05"), info.Name())
	if e, ok := info.Sys().(*fatfs.Entry); ok && e.HasLongName() {
		line += " (" + e.ShortName() + ")"
	}
	return line
}

func cat(c *cli.Context, fs *fatfs.Fs) error {
	if c.NArg() != 1 {
		return cli.Exit("cat needs exactly one path", 2)
	}

	f, err := fs.Open(c.Args().First())
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(c.App.Writer, f)
	return err
}

func get(c *cli.Context, fs *fatfs.Fs) error {
	if c.NArg() != 2 {
		return cli.Exit("get needs a path and a destination", 2)
	}
	return copyFile(fs, c.Args().Get(0), host, c.Args().Get(1))
}

func put(c *cli.Context, fs *fatfs.Fs) error {
	if c.NArg() != 2 {
		return cli.Exit("put needs a source and a path", 2)
	}
	return copyFile(host, c.Args().Get(0), fs, c.Args().Get(1))
}

func copyFile(srcFs afero.Fs, src string, dstFs afero.Fs, dst string) error {
	in, err := srcFs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := dstFs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func mkdir(c *cli.Context, fs *fatfs.Fs) error {
	if c.NArg() != 1 {
		return cli.Exit("mkdir needs exactly one path", 2)
	}
	return fs.MkdirAll(c.Args().First(), 0777)
}

func remove(c *cli.Context, fs *fatfs.Fs) error {
	if c.NArg() != 1 {
		return cli.Exit("rm needs exactly one path", 2)
	}
	if c.Bool("recursive") {
		return fs.RemoveAll(c.Args().First())
	}
	return fs.Remove(c.Args().First())
}

func move(c *cli.Context, fs *fatfs.Fs) error {
	if c.NArg() != 2 {
		return cli.Exit("mv needs the old and the new path", 2)
	}
	return fs.Rename(c.Args().Get(0), c.Args().Get(1))
}

func mkfs(c *cli.Context) error {
	var fatType fatfs.FATType
	switch c.Int("type") {
	case 0:
	case 16:
		fatType = fatfs.FAT16
	case 32:
		fatType = fatfs.FAT32
	default:
		return cli.Exit("type has to be 16 or 32", 2)
	}

	dev, err := blockdev.CreateImage(host, c.String("image"), c.Int64("size")*1024*1024)
	if err != nil {
		return err
	}

	err = fatfs.Format(dev, dev.Sectors(), fatfs.FormatOptions{
		Type:              fatType,
		Label:             c.String("label"),
		SectorsPerCluster: uint8(c.Uint("cluster")),
	})
	if closeErr := dev.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	logrus.WithField("image", c.String("image")).Info("created volume")
	return nil
}
