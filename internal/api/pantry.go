package api

import (
	"context"
	"fmt"
	"net/http"
)

const pantryPath = "/meals/api/pantry-items/"

func pantryItemPath(id int64) string { return fmt.Sprintf("%s%d/", pantryPath, id) }

func (c *Client) PantryItems(ctx context.Context, page int) (Page[PantryItem], error) {
	return getPage[PantryItem](ctx, c, pantryPath, nil, page)
}

func (c *Client) CreatePantryItem(ctx context.Context, item PantryItem) (PantryItem, error) {
	var out PantryItem
	err := c.post(ctx, pantryPath, item, &out)
	return out, err
}

func (c *Client) UpdatePantryItem(ctx context.Context, id int64, item PantryItem) (PantryItem, error) {
	var out PantryItem
	err := c.do(ctx, call{method: http.MethodPut, path: pantryItemPath(id), body: item}, &out)
	return out, err
}

func (c *Client) DeletePantryItem(ctx context.Context, id int64) error {
	return c.do(ctx, call{method: http.MethodDelete, path: pantryItemPath(id)}, nil)
}
