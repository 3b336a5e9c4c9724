package monday

import (
	"context"
	"encoding/json"
	"fmt"
)

// DefaultGroupID is the id monday gives the group every new board starts with.
const DefaultGroupID = "topics"

type idResult struct {
	ID string `json:"id"`
}

func (c *Client) CreateBoard(ctx context.Context, name, kind string) (string, error) {
	var out struct {
		CreateBoard idResult `json:"create_board"`
	}
	err := c.do(ctx, "create_board", `
mutation ($name: String!, $kind: BoardKind!) {
  create_board (board_name: $name, board_kind: $kind) { id }
}`, map[string]any{"name": name, "kind": kind}, &out)
	if err != nil {
		return "", err
	}
	return out.CreateBoard.ID, nil
}

// DeleteDefaultGroup deletes the group a new board is created with. It
// returns "" when the board has no groups left.
func (c *Client) DeleteDefaultGroup(ctx context.Context, boardID string) (string, error) {
	var groups struct {
		Boards []struct {
			Groups []idResult `json:"groups"`
		} `json:"boards"`
	}
	err := c.do(ctx, "board_groups", `
query ($board: [ID!]) {
  boards (ids: $board) { groups { id } }
}`, map[string]any{"board": []string{boardID}}, &groups)
	if err != nil {
		return "", err
	}
	if len(groups.Boards) == 0 || len(groups.Boards[0].Groups) == 0 {
		return "", nil
	}

	groupID := groups.Boards[0].Groups[0].ID
	for _, g := range groups.Boards[0].Groups {
		if g.ID == DefaultGroupID {
			groupID = g.ID
			break
		}
	}

	var out struct {
		DeleteGroup idResult `json:"delete_group"`
	}
	err = c.do(ctx, "delete_group", `
mutation ($board: ID!, $group: String!) {
  delete_group (board_id: $board, group_id: $group) { id }
}`, map[string]any{"board": boardID, "group": groupID}, &out)
	if err != nil {
		return "", err
	}
	return out.DeleteGroup.ID, nil
}

func (c *Client) CreateGroup(ctx context.Context, boardID, name string) (string, error) {
	var out struct {
		CreateGroup idResult `json:"create_group"`
	}
	err := c.do(ctx, "create_group", `
mutation ($board: ID!, $name: String!) {
  create_group (board_id: $board, group_name: $name) { id }
}`, map[string]any{"board": boardID, "name": name}, &out)
	if err != nil {
		return "", err
	}
	return out.CreateGroup.ID, nil
}

func (c *Client) CreateItem(ctx context.Context, boardID, groupID, name string) (string, error) {
	var out struct {
		CreateItem idResult `json:"create_item"`
	}
	err := c.do(ctx, "create_item", `
mutation ($board: ID!, $group: String!, $name: String!) {
  create_item (board_id: $board, group_id: $group, item_name: $name) { id }
}`, map[string]any{"board": boardID, "group": groupID, "name": name}, &out)
	if err != nil {
		return "", err
	}
	return out.CreateItem.ID, nil
}

func (c *Client) CreateSubitem(ctx context.Context, parentItemID, name string) (string, error) {
	var out struct {
		CreateSubitem idResult `json:"create_subitem"`
	}
	err := c.do(ctx, "create_subitem", `
mutation ($parent: ID!, $name: String!) {
  create_subitem (parent_item_id: $parent, item_name: $name) { id }
}`, map[string]any{"parent": parentItemID, "name": name}, &out)
	if err != nil {
		return "", err
	}
	return out.CreateSubitem.ID, nil
}

func (c *Client) CreateColumn(ctx context.Context, boardID, title, description, columnType string) (string, error) {
	var out struct {
		CreateColumn idResult `json:"create_column"`
	}
	err := c.do(ctx, "create_column", `
mutation ($board: ID!, $title: String!, $description: String, $type: ColumnType!) {
  create_column (board_id: $board, title: $title, description: $description, column_type: $type) { id }
}`, map[string]any{"board": boardID, "title": title, "description": description, "type": columnType}, &out)
	if err != nil {
		return "", err
	}
	return out.CreateColumn.ID, nil
}

func (c *Client) DeleteColumn(ctx context.Context, boardID, columnID string) (string, error) {
	var out struct {
		DeleteColumn idResult `json:"delete_column"`
	}
	err := c.do(ctx, "delete_column", `
mutation ($board: ID!, $column: String!) {
  delete_column (board_id: $board, column_id: $column) { id }
}`, map[string]any{"board": boardID, "column": columnID}, &out)
	if err != nil {
		return "", err
	}
	return out.DeleteColumn.ID, nil
}

// AssignColumns sets several column values on an item in one call. values is
// keyed by column id.
func (c *Client) AssignColumns(ctx context.Context, boardID, itemID string, values map[string]any) error {
	encoded, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("marshal column values: %w", err)
	}
	return c.do(ctx, "change_multiple_column_values", `
mutation ($board: ID!, $item: ID!, $values: JSON!) {
  change_multiple_column_values (board_id: $board, item_id: $item, column_values: $values) { id }
}`, map[string]any{"board": boardID, "item": itemID, "values": string(encoded)}, nil)
}

// ResolveSubitemBoard returns the board a sub-item lives on.
func (c *Client) ResolveSubitemBoard(ctx context.Context, itemID string) (string, error) {
	var out struct {
		Items []struct {
			Board idResult `json:"board"`
		} `json:"items"`
	}
	err := c.do(ctx, "item_board", `
query ($item: [ID!]) {
  items (ids: $item) { board { id } }
}`, map[string]any{"item": []string{itemID}}, &out)
	if err != nil {
		return "", err
	}
	if len(out.Items) == 0 || out.Items[0].Board.ID == "" {
		return "", &RemoteError{Operation: "item_board", Message: fmt.Sprintf("item %s not found", itemID)}
	}
	return out.Items[0].Board.ID, nil
}
