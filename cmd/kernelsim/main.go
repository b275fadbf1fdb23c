// Command kernelsim boots the whole storage+VM engine against a config
// file and runs a small scripted workload exercising the buffer cache,
// the inode layer, and the fault handler end to end.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"kernelfs/internal/config"
	"kernelfs/internal/defs"
	"kernelfs/internal/device"
	"kernelfs/internal/frame"
	"kernelfs/internal/fs"
	"kernelfs/internal/klog"
	"kernelfs/internal/metrics"
	"kernelfs/internal/swap"
	"kernelfs/internal/vm"
)

func run(configFile, imagePath, swapPath string, numSectors int) error {
	v := viper.New()
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return err
	}
	klog.Init(klog.Options{FilePath: cfg.LogFile, Level: klog.ParseLevel(cfg.LogLevel)})

	reg := metrics.NewRegistry(nil)

	fsDev, err := device.Open(imagePath, cfg.SectorSize, numSectors, 4)
	if err != nil {
		return err
	}
	defer fsDev.Close()

	vol, ferr := fs.Format(fsDev, cfg, reg)
	if ferr != 0 {
		return fmt.Errorf("format: %w", ferr)
	}
	defer vol.Shutdown()

	pageSize := 4096
	swapSectors := cfg.SwapSlots * (pageSize / cfg.SectorSize)
	swapDev, err := device.Open(swapPath, cfg.SectorSize, swapSectors, 4)
	if err != nil {
		return err
	}
	defer swapDev.Close()
	sw := swap.New(swapDev, pageSize, reg)

	registry := vm.NewRegistry()
	engine := vm.NewEngine(vol.Inodes, sw, reg)
	engine.Frames = frame.New(8, pageSize, registry, sw, engine, reg)

	tid := defs.Tid_t(1)
	proc := vm.NewProcess(tid, cfg.UserFloor, cfg.UserCeiling, cfg.StackGrowthSlack, cfg.MaxStackPages)
	registry.Register(proc)
	defer registry.Unregister(tid)

	sector, cerr := vol.Create("/hello.txt", vol.Root(), false)
	if cerr != 0 {
		return fmt.Errorf("create: %w", cerr)
	}
	ino := vol.Open(sector)
	defer vol.Close(ino)

	payload := []byte("hello from the simulated kernel\n")
	if _, werr := ino.WriteAt(0, payload); werr != 0 {
		return fmt.Errorf("write: %w", werr)
	}

	mapAddr := cfg.UserFloor
	mapID, merr := engine.Mmap(proc, ino, mapAddr)
	if merr != 0 {
		return fmt.Errorf("mmap: %w", merr)
	}
	if ferr := engine.HandleFault(proc, mapAddr, mapAddr); ferr != 0 {
		return fmt.Errorf("fault: %w", ferr)
	}

	frameData := engine.Frames.FrameData(0)
	fmt.Printf("wrote %d bytes, mmap id %d, first faulted page begins: %q\n",
		len(payload), mapID, string(frameData[:len(payload)]))

	if merr := engine.Munmap(proc, mapID); merr != 0 {
		return fmt.Errorf("munmap: %w", merr)
	}

	readback := make([]byte, len(payload))
	ino.ReadAt(0, readback)
	fmt.Printf("read back: %q\n", string(readback))
	return nil
}

func main() {
	var configFile, imagePath, swapPath string
	var numSectors int

	root := &cobra.Command{
		Use:   "kernelsim",
		Short: "Boot the storage+VM engine and run a scripted workload",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile, imagePath, swapPath, numSectors)
		},
	}
	flags := root.Flags()
	flags.StringVar(&configFile, "config", "", "optional config file")
	flags.StringVar(&imagePath, "image", "kernelsim-disk.img", "filesystem device image path")
	flags.StringVar(&swapPath, "swap", "kernelsim-swap.img", "swap device image path")
	flags.IntVar(&numSectors, "sectors", 4096, "number of sectors in the filesystem image")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
