// Command mkfs formats a device image with an empty free-sector map and
// an empty root directory.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"kernelfs/internal/config"
	"kernelfs/internal/device"
	"kernelfs/internal/fs"
	"kernelfs/internal/klog"
	"kernelfs/internal/metrics"
)

func main() {
	v := viper.New()
	var configFile string
	var imagePath string
	var numSectors int

	root := &cobra.Command{
		Use:   "mkfs",
		Short: "Format a device image for the kernel filesystem",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			klog.Init(klog.Options{FilePath: cfg.LogFile, Level: klog.ParseLevel(cfg.LogLevel)})

			if numSectors <= 0 {
				return fmt.Errorf("--sectors must be positive")
			}
			dev, err := device.Open(imagePath, cfg.SectorSize, numSectors, 4)
			if err != nil {
				return err
			}
			defer dev.Close()

			vol, ferr := fs.Format(dev, cfg, metrics.NewRegistry(nil))
			if ferr != 0 {
				return fmt.Errorf("format: %w", ferr)
			}
			if serr := vol.Shutdown(); serr != 0 {
				return fmt.Errorf("shutdown: %w", serr)
			}
			fmt.Printf("formatted %s: %d sectors, %d bytes each\n", imagePath, numSectors, cfg.SectorSize)
			return nil
		},
	}

	flags := root.Flags()
	flags.StringVar(&configFile, "config", "", "optional config file")
	flags.StringVar(&imagePath, "image", "disk.img", "path to the device image to create")
	flags.IntVar(&numSectors, "sectors", 65536, "number of sectors in the new image")
	bindConfigFlags(flags, v)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func bindConfigFlags(flags *pflag.FlagSet, v *viper.Viper) {
	config.BindFlags(flags, v)
}
