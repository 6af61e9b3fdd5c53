package graph

import (
	"fmt"
	"sort"

	"github.com/jcushman97/MAOFinal/pkg/models"
)

// Analyze validates the task set and produces an execution plan: one or
// more stages per dependency depth, each partitioned into single-team
// groups no larger than the strategy's cap.
//
// The conservative strategy additionally splits multi-team depth levels
// into one stage per team; balanced and aggressive keep a depth level as
// one stage with parallel per-team groups.
func Analyze(tasks []*models.Task, strategy models.Strategy) (*models.ExecutionPlan, error) {
	if !strategy.Valid() {
		strategy = models.StrategyBalanced
	}

	plan := &models.ExecutionPlan{Strategy: strategy}
	if len(tasks) == 0 {
		return plan, nil
	}

	g, err := Build(tasks)
	if err != nil {
		return nil, err
	}
	depths := g.Depths()

	maxDepth := 0
	byDepth := make(map[int][]*models.Task)
	for id, d := range depths {
		byDepth[d] = append(byDepth[d], g.Task(id))
		if d > maxDepth {
			maxDepth = d
		}
	}

	for depth := 0; depth <= maxDepth; depth++ {
		level := byDepth[depth]
		if len(level) == 0 {
			continue
		}
		teams := partitionByTeam(level)

		if strategy == models.StrategyConservative {
			// One team per stage keeps cross-team work serialized.
			for _, tp := range teams {
				stage := models.Stage{Groups: chunkGroups(depth, tp, strategy.MaxGroupSize())}
				plan.Stages = append(plan.Stages, stage)
			}
			continue
		}

		var stage models.Stage
		for _, tp := range teams {
			stage.Groups = append(stage.Groups, chunkGroups(depth, tp, strategy.MaxGroupSize())...)
		}
		plan.Stages = append(plan.Stages, stage)
	}

	return plan, nil
}

// teamPartition is one team's tasks within a depth level.
type teamPartition struct {
	team models.Team
	ids  []string
}

// partitionByTeam splits a depth level by team, teams and IDs sorted for
// deterministic plans.
func partitionByTeam(level []*models.Task) []teamPartition {
	byTeam := make(map[models.Team][]string)
	for _, t := range level {
		team := t.Team
		if !team.Valid() {
			team = models.TeamGeneral
		}
		byTeam[team] = append(byTeam[team], t.ID)
	}

	teams := make([]models.Team, 0, len(byTeam))
	for team := range byTeam {
		teams = append(teams, team)
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i] < teams[j] })

	out := make([]teamPartition, 0, len(teams))
	for _, team := range teams {
		ids := byTeam[team]
		sort.Strings(ids)
		out = append(out, teamPartition{team: team, ids: ids})
	}
	return out
}

// chunkGroups splits one team partition into groups of at most maxSize.
func chunkGroups(depth int, tp teamPartition, maxSize int) []models.Group {
	var groups []models.Group
	for i := 0; i < len(tp.ids); i += maxSize {
		end := i + maxSize
		if end > len(tp.ids) {
			end = len(tp.ids)
		}
		groups = append(groups, models.Group{
			ID:      fmt.Sprintf("stage%d-%s-%d", depth, tp.team, len(groups)),
			Team:    tp.team,
			TaskIDs: tp.ids[i:end],
		})
	}
	return groups
}
