package backend

import (
	"context"
	"net/http"
	"strconv"

	"mymove-wizard/internal/wizard"
)

func inventoryPath(id string) string {
	return "/v1/inventories/" + pathID(id)
}

func itemPath(id string, index int) string {
	return inventoryPath(id) + "/items/" + strconv.Itoa(index)
}

func (c *Client) inventoryCall(ctx context.Context, method, path string, in any) (wizard.Inventory, error) {
	var out wizard.Inventory
	err := c.doJSON(ctx, method, path, in, &out)
	return out, err
}

// GetInventory fetches an inventory by id.
func (c *Client) GetInventory(ctx context.Context, inventoryID string) (wizard.Inventory, error) {
	return c.inventoryCall(ctx, http.MethodGet, inventoryPath(inventoryID), nil)
}

// GetInventoryByOffer fetches the inventory created for offerID.
func (c *Client) GetInventoryByOffer(ctx context.Context, offerID string) (wizard.Inventory, error) {
	return c.inventoryCall(ctx, http.MethodGet, "/v1/inventories/by-offer/"+pathID(offerID), nil)
}

// AddInventoryItem appends a manual line and returns the updated inventory.
func (c *Client) AddInventoryItem(ctx context.Context, inventoryID string, req wizard.InventoryItemRequest) (wizard.Inventory, error) {
	return c.inventoryCall(ctx, http.MethodPost, inventoryPath(inventoryID)+"/items", req)
}

// UpdateInventoryItem sets name and quantity of the line at index.
func (c *Client) UpdateInventoryItem(ctx context.Context, inventoryID string, index int, req wizard.UpdateInventoryItemRequest) (wizard.Inventory, error) {
	return c.inventoryCall(ctx, http.MethodPatch, itemPath(inventoryID, index), req)
}

// RemoveInventoryItem deletes the line at index.
func (c *Client) RemoveInventoryItem(ctx context.Context, inventoryID string, index int) (wizard.Inventory, error) {
	return c.inventoryCall(ctx, http.MethodDelete, itemPath(inventoryID, index), nil)
}

// ReplaceInventoryItems sends the full list as a bare JSON array.
func (c *Client) ReplaceInventoryItems(ctx context.Context, inventoryID string, items []wizard.InventoryItemRequest) (wizard.Inventory, error) {
	if items == nil {
		items = []wizard.InventoryItemRequest{}
	}
	return c.inventoryCall(ctx, http.MethodPut, inventoryPath(inventoryID)+"/items", items)
}

// ConfirmInventory locks the inventory; no edits are accepted afterwards.
func (c *Client) ConfirmInventory(ctx context.Context, inventoryID string) (wizard.Inventory, error) {
	return c.inventoryCall(ctx, http.MethodPost, inventoryPath(inventoryID)+"/confirm", nil)
}

var _ wizard.Backend = (*Client)(nil)
