package sync

import (
	"context"
	"fmt"

	"github.com/clc2salesforce/AbsorbSync/pkg/api"
	"github.com/clc2salesforce/AbsorbSync/pkg/ledger"
	"github.com/clc2salesforce/AbsorbSync/pkg/record"
)

// fetch downloads all matching users into a fresh ledger, page by page.
// Each page is flushed to disk before the next one is requested, so a
// crash mid-fetch loses at most one page. Returns the number of rows
// written (users carrying a source value).
func (s *Syncer) fetch(ctx context.Context) (int, error) {
	cols := ledger.NewColumns(s.config.DisplayNameField, s.config.SourceField, s.config.DestinationField)

	writer, err := ledger.NewWriter(s.config.CSVFile, cols)
	if err != nil {
		return 0, err
	}

	opts := api.FetchOptions{
		PageSize:     s.config.PageSize,
		DepartmentID: s.config.DepartmentID,
	}
	if s.config.FilterBlank {
		opts.BlankField = s.config.DestinationField
	}

	total := 0
	err = s.client.FetchUsers(ctx, opts, func(users []record.Record, page, totalPages int) error {
		kept := 0
		for _, user := range users {
			sourceValue := record.Get(user, s.config.SourceField)

			// Users without a source value have nothing to sync
			if sourceValue == "" {
				continue
			}

			displayName := record.Get(user, s.config.DisplayNameField)
			if displayName == "" {
				displayName = "Unknown"
			}

			// Blank masked secrets so a placeholder is never PUT back
			user.RedactSecrets()

			snapshot, err := user.Marshal()
			if err != nil {
				return fmt.Errorf("failed to encode snapshot for user %s: %w", user.ID(), err)
			}

			row := ledger.Row{
				Status:       ledger.StatusRetrieved,
				ID:           user.ID(),
				DisplayName:  displayName,
				SourceValue:  sourceValue,
				DestValue:    record.Get(user, s.config.DestinationField),
				SnapshotJSON: string(snapshot),
			}

			if err := writer.Append(row); err != nil {
				return err
			}
			kept++
		}

		// Make the page durable before asking for the next one
		if err := writer.Flush(); err != nil {
			return err
		}

		total += kept
		s.log.Infof("Downloading user batch %d of %d (%d users, %d with %s)",
			page, totalPages, len(users), kept, s.config.SourceField)
		return nil
	})

	if err != nil {
		writer.Close()
		return 0, err
	}

	if err := writer.Close(); err != nil {
		return 0, err
	}

	s.log.Infof("Total users with %s saved to CSV: %d", s.config.SourceField, total)
	return total, nil
}
