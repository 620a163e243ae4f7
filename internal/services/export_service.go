package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/alimgiray/openwiden/internal/repositories"
	"github.com/xuri/excelize/v2"
)

const repositoriesSheet = "Repositories"

var repositoryExportHeader = []interface{}{
	"Name", "VCS", "URL", "Visibility", "Stars", "Open issues", "Forks", "Languages", "State", "Added",
}

// ExportService writes a user's repositories as a spreadsheet
type ExportService struct {
	repositoryRepo *repositories.RepositoryRepository
}

// NewExportService creates a new export service
func NewExportService(repositoryRepo *repositories.RepositoryRepository) *ExportService {
	return &ExportService{repositoryRepo: repositoryRepo}
}

// RepositoriesWorkbook builds a workbook with one row per repository of the user
func (s *ExportService) RepositoriesWorkbook(ctx context.Context, userID string) (*excelize.File, error) {
	repos, err := s.repositoryRepo.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", repositoriesSheet); err != nil {
		f.Close()
		return nil, err
	}

	if err := f.SetSheetRow(repositoriesSheet, "A1", &repositoryExportHeader); err != nil {
		f.Close()
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := f.SetRowStyle(repositoriesSheet, 1, 1, bold); err != nil {
		f.Close()
		return nil, err
	}

	for i, repo := range repos {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			f.Close()
			return nil, err
		}
		row := []interface{}{
			repo.Name, string(repo.VCS), repo.URL, string(repo.Visibility),
			repo.StarCount, repo.OpenIssueCount, repo.ForkCount,
			formatLanguages(repo.Languages), string(repo.State), repo.IsAdded,
		}
		if err := f.SetSheetRow(repositoriesSheet, cell, &row); err != nil {
			f.Close()
			return nil, err
		}
	}

	if err := f.SetColWidth(repositoriesSheet, "A", "A", 30); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.SetColWidth(repositoriesSheet, "C", "C", 50); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// formatLanguages lists languages by descending usage
func formatLanguages(languages map[string]float64) string {
	names := make([]string, 0, len(languages))
	for name := range languages {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if languages[names[i]] == languages[names[j]] {
			return names[i] < names[j]
		}
		return languages[names[i]] > languages[names[j]]
	})
	return strings.Join(names, ", ")
}
