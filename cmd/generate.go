package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/affiliate-outreach/internal/cachesync"
	"github.com/sells-group/affiliate-outreach/internal/generation"
	"github.com/sells-group/affiliate-outreach/internal/model"
	"github.com/sells-group/affiliate-outreach/pkg/dashapi"
)

var (
	genAffiliateID int64
	genContacts    []string
	genAll         bool
	genLimit       int
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate outreach messages for one affiliate or every pending one",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if !genAll && genAffiliateID == 0 {
			return eris.New("either --affiliate-id or --all is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		cache, orch, err := initSession(ctx, client, generation.WithSelector(flagSelector{emails: genContacts}))
		if err != nil {
			return err
		}
		defer cache.Wait()

		out := cmd.OutOrStdout()
		if genAll {
			targets := orch.PendingTargets(cache.Snapshot())
			if genLimit > 0 && len(targets) > genLimit {
				targets = targets[:genLimit]
			}
			if len(targets) == 0 {
				fmt.Fprintln(out, "nothing to generate")
				return nil
			}
			sum, err := orch.Bulk(ctx, targets, func(cur, total int) {
				fmt.Fprintf(out, "\r%d/%d", cur, total)
			})
			fmt.Fprintln(out)
			if sum != nil {
				fmt.Fprintf(out, "succeeded=%d failed=%d in_progress=%d skipped=%d\n",
					sum.Succeeded, sum.Failed, sum.InProgress, sum.Skipped)
			}
			if rerr := cache.Revalidate(ctx); rerr != nil && err == nil {
				err = rerr
			}
			return err
		}

		rec, ok := findAffiliate(cache.Snapshot(), genAffiliateID)
		if !ok {
			return eris.Errorf("affiliate %d not found", genAffiliateID)
		}
		outcomes, err := orch.GenerateForAffiliate(ctx, rec)
		if err != nil {
			return err
		}
		legacy := len(rec.Contacts()) == 0
		for _, o := range outcomes {
			fmt.Fprintf(out, "%s\t%s", o.Key, o.State)
			if o.Reason != "" {
				fmt.Fprintf(out, " (%s)", o.Reason)
			}
			fmt.Fprintln(out)
			if o.State == generation.Succeeded {
				contactEmail := o.Key.Email
				if legacy {
					contactEmail = ""
				}
				cache.SetMessage(ctx, rec.ID, contactEmail, model.NewStoredMessage(o.Message, o.Subject, time.Now()))
				if o.Subject != "" {
					fmt.Fprintf(out, "Subject: %s\n", o.Subject)
				}
				fmt.Fprintf(out, "%s\n\n", o.Message)
			}
		}
		return nil
	},
}

// initSession loads the affiliate collection and builds an orchestrator that
// reconciles against every cache update.
func initSession(ctx context.Context, client dashapi.Client, opts ...generation.Option) (*cachesync.Cache, *generation.Orchestrator, error) {
	cache := cachesync.New(client)
	if err := cache.Revalidate(ctx); err != nil {
		return nil, nil, eris.Wrap(err, "load affiliates")
	}

	base := []generation.Option{
		generation.WithNotifier(generation.LogNotifier{}),
		generation.WithBulkDelay(cfg.Generation.BulkDelay()),
		generation.WithReconcileWindow(cfg.Generation.ReconcileWindow()),
	}
	orch := generation.New(client, append(base, opts...)...)
	cache.Subscribe(orch.Reconcile)
	orch.Reconcile(cache.Snapshot())
	return cache, orch, nil
}

func findAffiliate(recs []model.AffiliateRecord, id int64) (model.AffiliateRecord, bool) {
	for _, r := range recs {
		if r.ID == id {
			return r, true
		}
	}
	return model.AffiliateRecord{}, false
}

// flagSelector picks the contacts named on the command line, or all of them
// when none were named.
type flagSelector struct {
	emails []string
}

func (s flagSelector) Select(_ context.Context, _ model.AffiliateRecord, contacts []model.Contact) ([]model.Contact, error) {
	if len(s.emails) == 0 {
		return contacts, nil
	}
	var out []model.Contact
	for _, c := range contacts {
		for _, e := range s.emails {
			if strings.EqualFold(strings.TrimSpace(e), c.Email) {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

func init() {
	generateCmd.Flags().Int64Var(&genAffiliateID, "affiliate-id", 0, "affiliate to write to")
	generateCmd.Flags().StringSliceVar(&genContacts, "contact", nil, "contact emails to write to when the affiliate has several (default all)")
	generateCmd.Flags().BoolVar(&genAll, "all", false, "generate for every affiliate with an email and no message")
	generateCmd.Flags().IntVar(&genLimit, "limit", 0, "max affiliates for --all (0 = no limit)")
	rootCmd.AddCommand(generateCmd)
}
