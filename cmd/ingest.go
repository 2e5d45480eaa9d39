package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/enforcement-sync/internal/ingest"
	"github.com/sells-group/enforcement-sync/internal/model"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Ingest CSV exports as one delivery",
	Long:  "Reads each file, classifies it by filename (or --subject / --type) and reconciles it against stored state. Files are processed sequentially.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		subject, _ := cmd.Flags().GetString("subject")
		typeFlag, _ := cmd.Flags().GetString("type")

		d, err := loadDelivery(args, subject)
		if err != nil {
			return err
		}

		env, err := initSync(ctx, "sync")
		if err != nil {
			return err
		}
		defer env.Close()

		var results []ingest.Result
		if typeFlag != "" {
			t, err := model.ParseRecordType(typeFlag)
			if err != nil {
				return err
			}
			for _, a := range d.Attachments {
				res, err := env.Ingestor.IngestAttachment(ctx, d.ID, t, a)
				results = append(results, res)
				if err != nil {
					_ = printJSON(results)
					return err
				}
			}
		} else {
			results, err = env.Ingestor.IngestDelivery(ctx, d)
			if err != nil {
				_ = printJSON(results)
				return err
			}
		}

		zap.L().Info("ingest complete", zap.String("delivery_id", d.ID), zap.Int("files", len(results)))
		return printJSON(results)
	},
}

// loadDelivery reads files from disk into one delivery.
func loadDelivery(paths []string, subject string) (ingest.Delivery, error) {
	d := ingest.Delivery{ID: uuid.NewString(), Subject: subject}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return d, eris.Wrapf(err, "ingest: read %s", p)
		}
		d.Attachments = append(d.Attachments, ingest.Attachment{Filename: filepath.Base(p), Data: data})
	}
	return d, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	ingestCmd.Flags().String("subject", "", "message subject used to classify files with generic names")
	ingestCmd.Flags().String("type", "", "force the record type for every file (violation, inspection, permit)")
	rootCmd.AddCommand(ingestCmd)
}
