package web

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Stocker</title>
  <script src="https://cdn.jsdelivr.net/npm/chart.js"></script>
  <style>
    :root { --bg:#ffffff; --ink:#111111; --ink-soft:#9c9c9c; --panel:#f6f6f6; }
    * { box-sizing:border-box; }
    body {
      margin:0;
      padding:2rem;
      background:var(--bg);
      color:var(--ink);
      font-family:'Space Mono','JetBrains Mono',monospace;
    }
    #app {
      width:min(1200px, 96vw);
      margin:0 auto;
      background:var(--panel);
      border:3px solid var(--ink);
      padding:2rem;
      box-shadow:12px 12px 0 rgba(0,0,0,.15);
      display:grid;
      grid-template-columns:1fr 320px;
      gap:2rem;
    }
    header { display:flex; justify-content:space-between; align-items:center; gap:1rem; }
    .status { font-size:.7rem; text-transform:uppercase; border:2px solid var(--ink); padding:.3rem .8rem; background:#fff; }
    .price { font-size:2rem; margin:.5rem 0; }
    .change.up { color:#0a7d32; }
    .change.down { color:#b3261e; }
    .tabs button, .intervals button { font-family:inherit; border:2px solid var(--ink); background:#fff; padding:.3rem .6rem; cursor:pointer; }
    .tabs button.active, .intervals button.active { background:var(--ink); color:#fff; }
    .degraded { color:#b3261e; font-size:.75rem; }
    table { width:100%; border-collapse:collapse; font-size:.75rem; }
    td, th { border-bottom:1px dashed var(--ink-soft); padding:.25rem; text-align:left; }
    form { display:flex; gap:.5rem; margin:.5rem 0; }
    input { font-family:inherit; border:2px solid var(--ink); padding:.3rem; width:100%; }
  </style>
</head>
<body>
<div id="app">
  <main>
    <header>
      <form id="symbol-form"><input id="symbol" placeholder="BTCUSDT" /><button>open</button></form>
      <span class="status" id="stream-state">idle</span>
    </header>
    <div class="price" id="price">--</div>
    <div class="change" id="change"></div>
    <div class="intervals" id="intervals"></div>
    <canvas id="chart" height="120"></canvas>
    <div class="degraded" id="degraded"></div>
  </main>
  <aside>
    <h3>Account</h3>
    <div>available: <span id="available">--</span></div>
    <div>holding: <span id="holding">--</span></div>
    <div>total: <span id="total">--</span></div>
    <form id="order-form">
      <input id="amount" placeholder="amount" />
      <button data-side="buy">buy</button>
      <button data-side="sell">sell</button>
    </form>
    <div class="degraded" id="order-error"></div>
    <table id="orders"></table>
    <h3>Script</h3>
    <div class="tabs" id="tabs"></div>
    <table id="script"></table>
  </aside>
</div>
<script>
const intervals = ['15m','1h','8h','1d','3d'];
const tabs = ['transaction','log','error'];
const chart = new Chart(document.getElementById('chart'), {
  type:'line',
  data:{ labels:[], datasets:[{ data:[], borderColor:'#111', pointRadius:0, borderWidth:2 }] },
  options:{ animation:false, plugins:{ legend:{ display:false } } }
});
let side = 'buy';

async function send(method, path, body) {
  const res = await fetch(path, { method, headers:{'Content-Type':'application/json'}, body:JSON.stringify(body) });
  if (!res.ok) {
    const data = await res.json().catch(() => ({}));
    throw new Error(data.error || res.statusText);
  }
  return res.json();
}

function render(view) {
  document.getElementById('stream-state').textContent = view.symbol + ' ' + view.stream_state;
  document.getElementById('price').textContent = view.price || '--';
  const change = document.getElementById('change');
  if (view.change) {
    change.textContent = view.change + ' (' + view.change_percent + '%)';
    change.className = 'change ' + (view.change.startsWith('-') ? 'down' : 'up');
  } else {
    change.textContent = '';
  }
  document.getElementById('intervals').innerHTML = intervals.map(i =>
    '<button class="' + (i === view.interval ? 'active' : '') + '" onclick="send(\'POST\',\'/api/interval\',{interval:\'' + i + '\'})">' + i + '</button>').join('');
  const history = view.history || [];
  chart.data.labels = history.map(p => new Date(p.open_time).toLocaleString());
  chart.data.datasets[0].data = history.map(p => Number(p.close_price));
  chart.update();
  document.getElementById('degraded').textContent = (view.degraded || []).join(' | ');
  document.getElementById('available').textContent = view.available;
  document.getElementById('holding').textContent = view.wallet_entry ? view.wallet_entry.amount : '0';
  document.getElementById('total').textContent = view.total;
  document.getElementById('orders').innerHTML = (view.orders || []).map(o =>
    '<tr><td>' + o.side + '</td><td>' + o.symbol + '</td><td>' + o.amount + '</td><td>' + o.price + '</td></tr>').join('');
  const script = view.script;
  document.getElementById('tabs').innerHTML = script ? tabs.map(t =>
    '<button class="' + (t === script.tab ? 'active' : '') + '" onclick="send(\'PUT\',\'/api/script-results/tab\',{tab:\'' + t + '\'})">' + t + '</button>').join('') : '';
  let rows = [];
  if (script && script.tab === 'transaction') {
    rows = (script.transactions || []).map(t => '<tr><td>' + (t.type || '') + '</td><td>' + (t.symbol || '') + '</td><td>' + t.price + '</td></tr>');
  } else if (script) {
    rows = (script.entries || []).map(e => '<tr><td>' + e + '</td></tr>');
  }
  document.getElementById('script').innerHTML = rows.join('');
}

document.getElementById('symbol-form').addEventListener('submit', e => {
  e.preventDefault();
  send('POST', '/api/symbol', { symbol:document.getElementById('symbol').value }).catch(console.error);
});
document.querySelectorAll('#order-form button').forEach(b => b.addEventListener('click', () => { side = b.dataset.side; }));
document.getElementById('order-form').addEventListener('submit', e => {
  e.preventDefault();
  const out = document.getElementById('order-error');
  const symbol = document.getElementById('stream-state').textContent.split(' ')[0];
  send('POST', '/api/orders', { side, symbol, amount:document.getElementById('amount').value })
    .then(() => { out.textContent = ''; })
    .catch(err => { out.textContent = err.message; });
});

const source = new EventSource('/api/view/stream');
source.addEventListener('view', e => render(JSON.parse(e.data)));
source.onerror = () => { document.getElementById('stream-state').textContent = 'disconnected'; };
</script>
</body>
</html>
`
