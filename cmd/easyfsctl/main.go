// Command easyfsctl creates and inspects EasyFS images from the host.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/SubSir/easyfs"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "easyfsctl",
	Short: "Create and inspect EasyFS images",
}

var mkfsCmd = &cobra.Command{
	Use:   "mkfs IMAGE",
	Short: "Format a new EasyFS image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		totalBlocks, _ := cmd.Flags().GetUint32("total-blocks")
		inodeBitmapBlocks, _ := cmd.Flags().GetUint32("inode-bitmap-blocks")

		dev, err := easyfs.OpenFileBlockDevice(args[0], totalBlocks)
		if err != nil {
			return fmt.Errorf("open image: %w", err)
		}
		defer dev.Close()

		if _, err := easyfs.Create(dev, totalBlocks, inodeBitmapBlocks); err != nil {
			return fmt.Errorf("format: %w", err)
		}
		fmt.Printf("formatted %s: %d blocks, %d inode-bitmap blocks\n", args[0], totalBlocks, inodeBitmapBlocks)
		return nil
	},
}

var shellCmd = &cobra.Command{
	Use:   "shell IMAGE",
	Short: "Open an interactive shell against an existing EasyFS image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		totalBlocks, _ := cmd.Flags().GetUint32("total-blocks")
		dev, err := easyfs.OpenFileBlockDevice(args[0], totalBlocks)
		if err != nil {
			return fmt.Errorf("open image: %w", err)
		}
		defer dev.Close()

		fs, err := easyfs.Open(dev)
		if err != nil {
			return fmt.Errorf("open filesystem: %w", err)
		}
		cwd := easyfs.RootInode(fs)
		if err := easyfs.ListRoot(cwd, func(format string, a ...any) { fmt.Printf(format+"\n", a...) }); err != nil {
			return fmt.Errorf("list root: %w", err)
		}
		return runShell(fs, cwd, dev)
	},
}

func init() {
	mkfsCmd.Flags().Uint32("total-blocks", 8192, "total number of 512-byte blocks in the image")
	mkfsCmd.Flags().Uint32("inode-bitmap-blocks", 1, "number of blocks reserved for the inode bitmap")
	shellCmd.Flags().Uint32("total-blocks", 8192, "total number of 512-byte blocks in the image")
	rootCmd.AddCommand(mkfsCmd, shellCmd)
}

// runShell drives a small REPL over cwd: ls, cd, mkdir, create, cat,
// write, rm, mv, sync, exit. Ported from rCore's user_shell.rs command
// dispatch, adapted to EasyFS's Vfs API.
func runShell(fs *easyfs.EasyFileSystem, cwd *easyfs.Vfs, dev interface{ Sync() error }) error {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("easyfs> ")
		if !scanner.Scan() {
			return nil
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		cmdName, rest := fields[0], fields[1:]
		var err error
		switch cmdName {
		case "exit", "quit":
			return fs.SyncAll()
		case "ls":
			err = doLs(cwd)
		case "cd":
			if len(rest) != 1 {
				err = fmt.Errorf("usage: cd PATH")
				break
			}
			var next *easyfs.Vfs
			next, err = cwd.Cd(rest[0])
			if err == nil {
				cwd = next
			}
		case "mkdir":
			if len(rest) != 1 {
				err = fmt.Errorf("usage: mkdir NAME")
				break
			}
			_, err = cwd.Mkdir(rest[0])
		case "create":
			if len(rest) != 1 {
				err = fmt.Errorf("usage: create NAME")
				break
			}
			_, err = cwd.Create(rest[0])
		case "cat":
			if len(rest) != 1 {
				err = fmt.Errorf("usage: cat NAME")
				break
			}
			err = doCat(cwd, rest[0])
		case "write":
			if len(rest) < 2 {
				err = fmt.Errorf("usage: write NAME TEXT...")
				break
			}
			err = doWrite(cwd, rest[0], strings.Join(rest[1:], " "))
		case "rm":
			if len(rest) != 1 {
				err = fmt.Errorf("usage: rm NAME")
				break
			}
			err = cwd.Remove(rest[0])
		case "mv":
			if len(rest) != 2 {
				err = fmt.Errorf("usage: mv SRC DST")
				break
			}
			err = cwd.Mv(rest[0], rest[1])
		case "sync":
			err = fs.SyncAll()
			if err == nil {
				err = dev.Sync()
			}
		default:
			err = fmt.Errorf("unknown command %q", cmdName)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %s\n", err)
		}
	}
}

func doLs(dir *easyfs.Vfs) error {
	names, err := dir.Ls()
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

func doCat(dir *easyfs.Vfs, name string) error {
	target, err := dir.Find(name)
	if err != nil {
		return err
	}
	f := easyfs.NewFile(target, true, false)
	data, err := f.ReadAll()
	if err != nil {
		return err
	}
	os.Stdout.Write(data)
	fmt.Println()
	return nil
}

func doWrite(dir *easyfs.Vfs, name, text string) error {
	target, err := dir.Find(name)
	if err != nil {
		target, err = dir.Create(name)
		if err != nil {
			return err
		}
	} else if err := target.Clear(); err != nil {
		return err
	}
	_, err = target.WriteAt(0, []byte(text))
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
