package workflow

import (
	"context"
	"fmt"
	"strconv"

	"github.com/xkilldash9x/mapharness/internal/browser"
)

var (
	addFilterButton    = browser.Role("button", browser.Text("add नयाँ फिल्टर थप्नुहोस्"))
	filterTypeField    = browser.Role("textbox", browser.Exact("Select Filter Type"))
	filterNameField    = browser.Role("textbox", browser.Exact("Enter Filter Name"))
	layerField         = browser.Role("textbox", browser.Exact("लेयर छान्नुहोस्"))
	attributeTypeLabel = browser.ByText(browser.Exact("Type"))
	equalsButton       = browser.Role("button", browser.Exact("="))
	conditionValue     = browser.CSS("p.cursor-pointer")
	previewTableButton = browser.Role("button", browser.Exact("Preview Table"))
	generateChartBtn   = browser.Role("button", browser.Exact("Generate Chart"))
	chartTitle         = browser.CSS("div.head p.w-full.text-base.font-bold.capitalize.text-grey-800")
	saveFilterButton   = browser.Role("button", browser.Exact("Add Filter"))
	searchFilterField  = browser.Role("textbox", browser.Exact("फिल्टरको नामले खोज्नुहोस्"))
	tableRow           = browser.CSS("table tbody tr")
	deleteRowButton    = browser.Role("button", browser.Pattern("delete"))
	deleteConfirmField = browser.Role("textbox", browser.Pattern("हटाउनुहोस्"))
	deleteConfirmBtn   = browser.Role("button", browser.Pattern("delete Confirm"))
	noDataCell         = browser.Role("cell", browser.Pattern("No Data found"))

	filterAddedToast   = browser.Pattern("New Filter Added Successfully")
	filterDeletedToast = browser.Pattern("Filter Deleted Successfully")
	filterNameRequired = browser.Exact("Required")
)

// ChartTypes are the chart kinds a filter can be saved with.
var ChartTypes = []string{"bar", "donut", "horizontalBar", "stackedChart", "scatterChart"}

// Filter is the data entered when creating a filter.
type Filter struct {
	// Type is the filter kind, "Filter 1" or "Filter 2".
	Type  string
	Name  string
	Layer string
	// Condition, when set, adds an equality condition on the layer's type
	// attribute and previews the matching rows.
	Condition string
	Rows      []int
	// Chart, when set, generates a chart of that type instead of a row selection.
	Chart string
}

// TableFilter is a filter over the rows of a layer.
func TableFilter(name, layer string) Filter {
	return Filter{Type: "Filter 1", Name: name, Layer: layer, Condition: "governmental", Rows: []int{1, 2, 3}}
}

// ChartFilter is a filter rendered as a chart.
func ChartFilter(name, layer, chart string) Filter {
	return Filter{Type: "Filter 2", Name: name, Layer: layer, Chart: chart}
}

// FilterBuilder drives the manage-filter page.
type FilterBuilder struct {
	flow
}

// NewFilterBuilder returns the filter flow.
func NewFilterBuilder(env *Env) *FilterBuilder {
	return &FilterBuilder{flow: newFlow(env, "filter")}
}

// Open loads the manage-filter page.
func (b *FilterBuilder) Open(ctx context.Context) error {
	return b.step(ctx, "open manage filter", func(ctx context.Context) error {
		if err := b.open(ctx, b.env.target.Routes.ManageFilter); err != nil {
			return err
		}
		return b.locate(addFilterButton).WaitVisible(ctx, 0)
	})
}

func (b *FilterBuilder) fill(ctx context.Context, f Filter) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"describe filter", func(ctx context.Context) error {
			if err := b.click(ctx, addFilterButton); err != nil {
				return err
			}
			c := b.env.Controls
			if err := c.SelectDropdown(ctx, b.locate(filterTypeField), f.Type); err != nil {
				return err
			}
			if err := c.FillField(ctx, b.locate(filterNameField), f.Name); err != nil {
				return err
			}
			return c.SelectSearchable(ctx, b.locate(layerField), f.Layer)
		}},
		{"set condition", func(ctx context.Context) error {
			if err := b.click(ctx, attributeTypeLabel); err != nil {
				return err
			}
			if f.Condition == "" {
				return nil
			}
			if err := b.click(ctx, equalsButton); err != nil {
				return err
			}
			return b.click(ctx, conditionValue.Filter(browser.Text(f.Condition)))
		}},
		{"pick rows or chart", func(ctx context.Context) error {
			if f.Chart != "" {
				if err := b.click(ctx, generateChartBtn); err != nil {
					return err
				}
				return b.click(ctx, chartTitle.Filter(browser.Text(f.Chart)))
			}
			if f.Condition == "" {
				return nil
			}
			if err := b.click(ctx, previewTableButton); err != nil {
				return err
			}
			b.bestEffortVisible(ctx, b.locate(tableRow), 0)
			for _, row := range f.Rows {
				if err := b.click(ctx, browser.Role("cell", browser.Exact(strconv.Itoa(row)))); err != nil {
					return fmt.Errorf("select row %d: %w", row, err)
				}
			}
			return nil
		}},
		{"save filter", func(ctx context.Context) error {
			return b.click(ctx, saveFilterButton)
		}},
	}
	for _, s := range steps {
		if err := b.step(ctx, s.name, s.fn); err != nil {
			return err
		}
	}
	return nil
}

// Create fills and saves f, then waits for the confirmation toast.
func (b *FilterBuilder) Create(ctx context.Context, f Filter) error {
	if err := b.fill(ctx, f); err != nil {
		return err
	}
	return b.step(ctx, "confirm saved", func(ctx context.Context) error {
		if err := b.expectText(ctx, filterAddedToast); err != nil {
			return err
		}
		// Dismiss the toast; it covers the search field.
		return b.click(ctx, browser.ByText(filterAddedToast))
	})
}

// CreateRejected fills and saves f and expects the form to refuse it for a
// missing name.
func (b *FilterBuilder) CreateRejected(ctx context.Context, f Filter) error {
	if err := b.fill(ctx, f); err != nil {
		return err
	}
	return b.step(ctx, "expect name required", func(ctx context.Context) error {
		return b.expectText(ctx, filterNameRequired)
	})
}

func (b *FilterBuilder) row(name string) *browser.Locator {
	return b.locate(tableRow.Filter(browser.Text(name)))
}

// Search looks a filter up by name and asserts its row is listed.
func (b *FilterBuilder) Search(ctx context.Context, name string) error {
	return b.step(ctx, "search "+name, func(ctx context.Context) error {
		if err := b.env.Controls.FillField(ctx, b.locate(searchFilterField), name); err != nil {
			return err
		}
		if err := b.env.Page.Keyboard().Press(ctx, "Enter"); err != nil {
			return err
		}
		if err := b.row(name).WaitVisible(ctx, b.env.network.ElementTimeout); err != nil {
			return fmt.Errorf("%w: filter %q not listed: %v", ErrAssertion, name, err)
		}
		return nil
	})
}

// Delete removes the listed filter through the typed confirmation and
// asserts the table is left empty.
func (b *FilterBuilder) Delete(ctx context.Context, name string) error {
	return b.step(ctx, "delete "+name, func(ctx context.Context) error {
		if err := b.row(name).Locate(deleteRowButton).Click(ctx); err != nil {
			return err
		}
		if err := b.env.Controls.FillField(ctx, b.locate(deleteConfirmField), "delete"); err != nil {
			return err
		}
		if err := b.click(ctx, deleteConfirmBtn); err != nil {
			return err
		}
		if err := b.expectText(ctx, filterDeletedToast); err != nil {
			return err
		}
		if err := b.locate(noDataCell).WaitVisible(ctx, 0); err != nil {
			return fmt.Errorf("%w: table not empty after delete: %v", ErrAssertion, err)
		}
		return nil
	})
}
