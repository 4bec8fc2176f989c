package upstream

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/teamlens/kestrel/internal/domain"
)

// LiveSource implements domain.TrackingSource against the real tracking API.
type LiveSource struct {
	client *Client
}

// NewLiveSource creates a live tracking source over a rate-limited client.
func NewLiveSource(client *Client) *LiveSource {
	return &LiveSource{client: client}
}

// wire formats for the tracking API

type queryRequest struct {
	Query string `json:"query"`
}

type queryResponse struct {
	WorkItems []struct {
		ID  int    `json:"id"`
		URL string `json:"url"`
	} `json:"workItems"`
}

type detailsResponse struct {
	Value []struct {
		ID     int            `json:"id"`
		Fields map[string]any `json:"fields"`
	} `json:"value"`
}

type iterationsResponse struct {
	Value []struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		Path       string `json:"path"`
		Attributes struct {
			StartDate  time.Time `json:"startDate"`
			FinishDate time.Time `json:"finishDate"`
			TimeFrame  string    `json:"timeFrame"`
		} `json:"attributes"`
	} `json:"value"`
}

type membersResponse struct {
	Value []struct {
		Identity struct {
			ID          string `json:"id"`
			DisplayName string `json:"displayName"`
			UniqueName  string `json:"uniqueName"`
		} `json:"identity"`
	} `json:"value"`
}

// QueryItems runs a filter query and returns matching item references.
func (s *LiveSource) QueryItems(ctx context.Context, q domain.ItemQuery) ([]domain.WorkItemRef, error) {
	var resp queryResponse
	path := fmt.Sprintf("/%s/_apis/wit/wiql?api-version=7.0", url.PathEscape(q.Project))
	if err := s.client.post(ctx, path, queryRequest{Query: buildItemQuery(q)}, &resp); err != nil {
		return nil, err
	}

	refs := make([]domain.WorkItemRef, 0, len(resp.WorkItems))
	for _, wi := range resp.WorkItems {
		refs = append(refs, domain.WorkItemRef{ID: wi.ID, URL: wi.URL})
	}
	return refs, nil
}

// GetItemDetails fetches full fields for a set of item IDs. The caller is
// responsible for keeping len(ids) within the API's batch ceiling; large
// sets go through RunBatched.
func (s *LiveSource) GetItemDetails(ctx context.Context, project string, ids []int) ([]domain.WorkItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	idStrs := make([]string, len(ids))
	for i, id := range ids {
		idStrs[i] = strconv.Itoa(id)
	}

	var resp detailsResponse
	path := fmt.Sprintf("/%s/_apis/wit/workitems?ids=%s&api-version=7.0",
		url.PathEscape(project), strings.Join(idStrs, ","))
	if err := s.client.get(ctx, path, &resp); err != nil {
		return nil, err
	}

	items := make([]domain.WorkItem, 0, len(resp.Value))
	for _, raw := range resp.Value {
		items = append(items, itemFromFields(raw.ID, raw.Fields))
	}
	return items, nil
}

// ListIterations returns iterations for a project+team.
func (s *LiveSource) ListIterations(ctx context.Context, project, team, timeFrame string) ([]domain.Iteration, error) {
	path := fmt.Sprintf("/%s/%s/_apis/work/teamsettings/iterations?api-version=7.0",
		url.PathEscape(project), url.PathEscape(team))
	if timeFrame != "" {
		path += "&$timeframe=" + url.QueryEscape(timeFrame)
	}

	var resp iterationsResponse
	if err := s.client.get(ctx, path, &resp); err != nil {
		return nil, err
	}

	iterations := make([]domain.Iteration, 0, len(resp.Value))
	for _, it := range resp.Value {
		iterations = append(iterations, domain.Iteration{
			ID:        it.ID,
			Name:      it.Name,
			Path:      it.Path,
			TimeFrame: it.Attributes.TimeFrame,
			StartDate: it.Attributes.StartDate,
			EndDate:   it.Attributes.FinishDate,
		})
	}
	return iterations, nil
}

// ListTeamMembers returns the roster for a project team.
func (s *LiveSource) ListTeamMembers(ctx context.Context, project, team string) ([]domain.TeamMember, error) {
	path := fmt.Sprintf("/_apis/projects/%s/teams/%s/members?api-version=7.0",
		url.PathEscape(project), url.PathEscape(team))

	var resp membersResponse
	if err := s.client.get(ctx, path, &resp); err != nil {
		return nil, err
	}

	members := make([]domain.TeamMember, 0, len(resp.Value))
	for _, m := range resp.Value {
		members = append(members, domain.TeamMember{
			ID:          m.Identity.ID,
			DisplayName: m.Identity.DisplayName,
			Email:       m.Identity.UniqueName,
		})
	}
	return members, nil
}

// buildItemQuery renders an ItemQuery as the API's SQL-ish query language.
func buildItemQuery(q domain.ItemQuery) string {
	var b strings.Builder
	b.WriteString("SELECT [System.Id] FROM WorkItems WHERE [System.TeamProject] = '")
	b.WriteString(escapeQueryValue(q.Project))
	b.WriteString("'")

	if len(q.Types) > 0 {
		b.WriteString(" AND [System.WorkItemType] IN (")
		b.WriteString(quoteList(q.Types))
		b.WriteString(")")
	}
	if len(q.States) > 0 {
		b.WriteString(" AND [System.State] IN (")
		b.WriteString(quoteList(q.States))
		b.WriteString(")")
	}
	if q.IterationPath != "" {
		b.WriteString(" AND [System.IterationPath] UNDER '")
		b.WriteString(escapeQueryValue(q.IterationPath))
		b.WriteString("'")
	}
	if q.ChangedSince != "" {
		b.WriteString(" AND [System.ChangedDate] >= '")
		b.WriteString(escapeQueryValue(q.ChangedSince))
		b.WriteString("'")
	}

	b.WriteString(" ORDER BY [System.ChangedDate] DESC")
	return b.String()
}

func quoteList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + escapeQueryValue(v) + "'"
	}
	return strings.Join(quoted, ", ")
}

func escapeQueryValue(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}

// itemFromFields maps the API's loose field map to a WorkItem.
func itemFromFields(id int, fields map[string]any) domain.WorkItem {
	item := domain.WorkItem{
		ID:            id,
		Title:         fieldString(fields, "System.Title"),
		Type:          fieldString(fields, "System.WorkItemType"),
		State:         fieldString(fields, "System.State"),
		Severity:      fieldString(fields, "Microsoft.VSTS.Common.Severity"),
		IterationPath: fieldString(fields, "System.IterationPath"),
		StoryPoints:   fieldFloat(fields, "Microsoft.VSTS.Scheduling.StoryPoints"),
		RemainingWork: fieldFloat(fields, "Microsoft.VSTS.Scheduling.RemainingWork"),
	}

	if env := fieldString(fields, "Custom.Environment"); env != "" {
		item.Environment = env
	}
	if assigned, ok := fields["System.AssignedTo"].(map[string]any); ok {
		if name, ok := assigned["displayName"].(string); ok {
			item.AssignedTo = name
		}
	}
	if tags := fieldString(fields, "System.Tags"); tags != "" {
		for _, tag := range strings.Split(tags, ";") {
			if trimmed := strings.TrimSpace(tag); trimmed != "" {
				item.Tags = append(item.Tags, trimmed)
			}
		}
	}
	if changed, ok := fields["System.ChangedDate"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, changed); err == nil {
			item.ChangedAt = ts
		}
	}

	return item
}

func fieldString(fields map[string]any, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

func fieldFloat(fields map[string]any, key string) float64 {
	if v, ok := fields[key].(float64); ok {
		return v
	}
	return 0
}
