package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xavierca1/lead-pipeline/internal/entity"
	"github.com/xavierca1/lead-pipeline/internal/infra/database"
)

func strPtr(s string) *string { return &s }

var seedContacts = []entity.Contact{
	{Phone: "5491155550001", Name: "Lucía Fernández", Email: strPtr("lucia@example.com"), Company: strPtr("Fernández Propiedades"), Tags: []string{"inversor"}},
	{Phone: "5491155550002", Name: "Martín Gómez", Email: strPtr("martin@example.com"), Tags: []string{"primera-vivienda"}},
	{Phone: "5491155550003", Name: "Sofía Romero", Company: strPtr("Estudio Romero"), Role: strPtr("Arquitecta")},
}

var seedLeads = []entity.Lead{
	{Phone: "5491155550001", Name: "Lucía Fernández", PropertyInterest: "Departamento", Stage: entity.StageWantsVisit, ContactPhone: strPtr("5491155550001")},
	{Phone: "5491155550002", Name: "Martín Gómez", PropertyInterest: "PH", Stage: entity.StageAIHandling, ContactPhone: strPtr("5491155550002")},
	{Phone: "5491155550003", Name: "Sofía Romero", PropertyInterest: "Oficina", Stage: entity.StageDealWon, ContactPhone: strPtr("5491155550003")},
	{Phone: "5491155550004", Name: "Diego Sosa", PropertyInterest: "Casa", Stage: entity.StageHumanHandling},
	{Phone: "5491155550005", Name: "Valentina Díaz", PropertyInterest: "", Stage: entity.StageAwaitingReply},
	{Phone: "5491155550006", Name: "Joaquín Pérez", PropertyInterest: "Departamento", Stage: entity.StageNurture, Notes: strPtr("Volver a contactar en marzo")},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert demo contacts and leads. Contacts are upserted, existing leads are kept",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := cmd.Context()
		contacts := database.NewContactRepository(db)
		for i := range seedContacts {
			c := seedContacts[i]
			if err := contacts.Upsert(ctx, &c); err != nil {
				return err
			}
		}

		leads := database.NewLeadRepository(db)
		for i := range seedLeads {
			l := seedLeads[i]
			if err := leads.Create(ctx, &l); err != nil {
				return err
			}
		}

		logger.Info("seed data written",
			zap.Int("contacts", len(seedContacts)),
			zap.Int("leads", len(seedLeads)),
		)
		return nil
	},
}
