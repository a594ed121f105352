package cmds

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/prattle/pkg/engine"
	"github.com/go-go-golems/prattle/pkg/features"
)

// NewFeatureCommand runs one-shot feature transformations.
func NewFeatureCommand(configFile *string) *cobra.Command {
	var (
		subTitle     string
		imagePath    string
		documentPath string
	)

	cmd := &cobra.Command{
		Use:   "feature [name] [input]",
		Short: "Run a one-shot feature (summarize, translate, ...)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := features.Parse(args[0])
			if err != nil {
				return err
			}

			var sub *features.SubFeature
			if subTitle != "" {
				s, err := features.SubFeatureByTitle(f, subTitle)
				if err != nil {
					return err
				}
				sub = &s
			}

			a, err := newApp(*configFile)
			if err != nil {
				return err
			}
			defer a.Close()
			a.Start()

			dispatcher := features.NewDispatcher(a.engine)
			ctx := cmd.Context()

			var pending *engine.Pending
			switch {
			case imagePath != "":
				pending, err = dispatcher.RunImage(ctx, f, sub, args[1], imagePath)
			case documentPath != "":
				pending, err = dispatcher.RunDocument(ctx, f, sub, args[1], documentPath)
			default:
				pending, err = dispatcher.Run(ctx, f, sub, args[1])
			}
			if err != nil {
				return err
			}

			printResult(pending.Wait())
			return nil
		},
	}

	cmd.Flags().StringVar(&subTitle, "sub", "", "sub-feature title")
	cmd.Flags().StringVar(&imagePath, "image", "", "image file to attach")
	cmd.Flags().StringVar(&documentPath, "document", "", "document file to inline")

	list := &cobra.Command{
		Use:   "list",
		Short: "List available features",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range features.All() {
				info, err := features.Get(f)
				if err != nil {
					return err
				}
				fmt.Printf("%-24s %s\n", f, info.Description)
				for _, sub := range info.SubFeatures {
					fmt.Printf("    - %s\n", sub.Title)
				}
			}
			return nil
		},
	}
	cmd.AddCommand(list)

	return cmd
}
