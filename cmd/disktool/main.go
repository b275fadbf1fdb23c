// Command disktool inspects a device image (free-sector count, root
// directory contents) and can export a compressed diagnostic snapshot of
// it.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"kernelfs/internal/config"
	"kernelfs/internal/device"
	"kernelfs/internal/fs"
	"kernelfs/internal/klog"
	"kernelfs/internal/metrics"
)

func openExisting(imagePath string, sectorSize int) (*device.FileDevice, error) {
	info, err := os.Stat(imagePath)
	if err != nil {
		return nil, err
	}
	numSectors := int(info.Size() / int64(sectorSize))
	return device.Open(imagePath, sectorSize, numSectors, 4)
}

func inspectCmd(v *viper.Viper) *cobra.Command {
	var configFile, imagePath string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print free-sector count and root directory entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			klog.Init(klog.Options{FilePath: cfg.LogFile, Level: klog.ParseLevel(cfg.LogLevel)})

			dev, err := openExisting(imagePath, cfg.SectorSize)
			if err != nil {
				return err
			}
			defer dev.Close()

			vol, ferr := fs.Boot(dev, cfg, metrics.NewRegistry(nil))
			if ferr != 0 {
				return fmt.Errorf("boot: %w", ferr)
			}
			defer vol.Shutdown()

			fmt.Printf("sectors total:  %d\n", dev.NumSectors())
			fmt.Printf("sectors free:   %d\n", vol.FreeMap.FreeCount())
			fmt.Printf("root directory entries:\n")
			for i := 0; ; i++ {
				name, ok := vol.Readdir(vol.Root(), i)
				if !ok {
					break
				}
				fmt.Printf("  %s\n", name)
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "optional config file")
	flags.StringVar(&imagePath, "image", "disk.img", "path to the device image")
	config.BindFlags(flags, v)
	return cmd
}

func exportCmd(v *viper.Viper) *cobra.Command {
	var imagePath, outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a zstd-compressed snapshot of the device image",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := os.Open(imagePath)
			if err != nil {
				return err
			}
			defer in.Close()

			out, err := os.Create(outPath)
			if err != nil {
				return err
			}
			defer out.Close()

			enc, err := zstd.NewWriter(out)
			if err != nil {
				return err
			}
			defer enc.Close()

			_, err = io.Copy(enc, in)
			return err
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&imagePath, "image", "disk.img", "path to the device image to export")
	flags.StringVar(&outPath, "out", "disk.img.zst", "output path for the compressed snapshot")
	return cmd
}

func main() {
	v := viper.New()
	root := &cobra.Command{Use: "disktool", Short: "Inspect or export a kernel filesystem device image"}
	root.AddCommand(inspectCmd(v), exportCmd(v))
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
