package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/asotjrs/amplify-go/storage"
)

var (
	storageLevel     string
	storageTarget    string
	storageExpiresIn time.Duration
	storageUpload    bool
	storageAll       bool
)

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Operate on the configured storage bucket",
}

var storageURLCmd = &cobra.Command{
	Use:   "url <key>",
	Short: "Generate a presigned URL for an object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		store, err := rt.storageClient()
		if err != nil {
			return err
		}
		opts := &storage.URLOptions{
			Level:            storage.AccessLevel(storageLevel),
			TargetIdentityID: storageTarget,
			ExpiresIn:        storageExpiresIn,
		}
		var signed *storage.PresignedURL
		if storageUpload {
			signed, err = store.UploadURL(ctx, args[0], opts)
		} else {
			signed, err = store.GetURL(ctx, args[0], opts)
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", signed.Method, signed.URL)
		fmt.Printf("Expires at %s\n", signed.ExpiresAt.UTC().Format(time.RFC3339))
		return nil
	},
}

var storageLsCmd = &cobra.Command{
	Use:   "ls [prefix]",
	Short: "List objects at an access level",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		store, err := rt.storageClient()
		if err != nil {
			return err
		}
		prefix := ""
		if len(args) > 0 {
			prefix = args[0]
		}
		res, err := store.List(ctx, prefix, &storage.ListOptions{
			Level:            storage.AccessLevel(storageLevel),
			TargetIdentityID: storageTarget,
			All:              storageAll,
		})
		if err != nil {
			return err
		}
		for _, item := range res.Items {
			fmt.Printf("%12d  %s  %s\n", item.Size, item.LastModified.UTC().Format(time.RFC3339), item.Key)
		}
		if res.NextToken != "" {
			fmt.Printf("... more results; rerun with --all\n")
		}
		return nil
	},
}

var storageRmCmd = &cobra.Command{
	Use:   "rm <key>",
	Short: "Delete an object from the caller's own space",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		store, err := rt.storageClient()
		if err != nil {
			return err
		}
		res, err := store.Remove(ctx, args[0], &storage.RemoveOptions{
			Level: storage.AccessLevel(storageLevel),
		})
		if err != nil {
			return err
		}
		fmt.Printf("Removed %s\n", res.Key)
		return nil
	},
}

func init() {
	storageCmd.PersistentFlags().StringVar(&storageLevel, "level", "", "access level: guest, protected or private (default guest)")
	storageCmd.PersistentFlags().StringVar(&storageTarget, "target", "", "identity ID whose protected objects to read")
	storageURLCmd.Flags().DurationVar(&storageExpiresIn, "expires-in", 0, "requested URL lifetime (default 15m)")
	storageURLCmd.Flags().BoolVar(&storageUpload, "upload", false, "sign a PUT instead of a GET")
	storageLsCmd.Flags().BoolVar(&storageAll, "all", false, "walk every page")

	storageCmd.AddCommand(storageURLCmd, storageLsCmd, storageRmCmd)
	rootCmd.AddCommand(storageCmd)
}
