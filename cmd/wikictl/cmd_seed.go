package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync/atomic"

	"github.com/kasuganosora/gamewiki/server/config"
	"github.com/kasuganosora/gamewiki/server/entity"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Upsert every record of a YAML data file",
	Long: `Reads a YAML file mapping resource names to lists of records and upserts
each record. Records are sent in parallel; the first failure stops the run.

  items:
    - itemCode: I1
      name: Vajra
      rarity: COMMON
  guides:
    - guideId: G1
      title: Act one`,
	Args: cobra.NoArgs,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringP("file", "f", "", "Seed file (required)")
	seedCmd.Flags().Int("concurrency", 4, "Parallel upserts")
	_ = seedCmd.MarkFlagRequired("file")
}

// seedBatch is the records of one resource.
type seedBatch struct {
	Resource config.ResourceConfig
	Records  []entity.Entity
}

// parseSeed decodes a seed document into batches ordered by resource name.
// Every record must carry its resource's id.
func parseSeed(data []byte) ([]seedBatch, error) {
	var doc map[string][]entity.Entity
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	names := make([]string, 0, len(doc))
	for name := range doc {
		names = append(names, name)
	}
	sort.Strings(names)

	batches := make([]seedBatch, 0, len(names))
	for _, name := range names {
		rc, err := lookupResource(name)
		if err != nil {
			return nil, err
		}
		for i, rec := range doc[name] {
			if rec.Key(rc.IDField) == "" {
				return nil, fmt.Errorf("%s[%d]: %s is required", name, i, rc.IDField)
			}
		}
		batches = append(batches, seedBatch{Resource: rc, Records: doc[name]})
	}
	return batches, nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	limit, _ := cmd.Flags().GetInt("concurrency")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	batches, err := parseSeed(data)
	if err != nil {
		return err
	}
	token, err := readToken(tokenPath())
	if err != nil {
		return err
	}
	if token == "" {
		return errors.New("not signed in: run wikictl login")
	}

	api := newClient()
	var saved atomic.Int64
	eg, ctx := errgroup.WithContext(cmd.Context())
	if limit > 0 {
		eg.SetLimit(limit)
	}
	for _, b := range batches {
		for _, rec := range b.Records {
			rc, rec := b.Resource, rec
			eg.Go(func() error {
				if _, err := api.Upsert(ctx, rc.Name, token, rec); err != nil {
					return fmt.Errorf("%s %s: %w", rc.Name, rec.Key(rc.IDField), err)
				}
				saved.Add(1)
				logger.Debug("seeded", zap.String("resource", rc.Name), zap.String("id", rec.Key(rc.IDField)))
				return nil
			})
		}
	}
	err = eg.Wait()
	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d records\n", saved.Load())
	return err
}
